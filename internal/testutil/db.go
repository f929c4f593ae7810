// Package testutil поднимает окружение для интеграционных тестов репозиториев.
// Без TEST_DATABASE_URL / TEST_REDIS_ADDR тесты пропускаются.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/ignatzorin/booking-core/internal/db"
)

const testDBLockID int64 = 702315519

// NewTestDB подключается к тестовой базе, применяет миграции и держит advisory lock,
// чтобы пакеты с интеграционными тестами не мешали друг другу.
func NewTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL не задан, пропускаем интеграционные тесты Postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := db.NewPostgres(ctx, dsn)
	if err != nil {
		t.Skipf("skipping Postgres integration tests: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	lockTestDB(t, conn)

	if err := db.RunMigrations(ctx, conn, migrationsDir()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return conn
}

// TruncateAll очищает таблицы ядра.
func TruncateAll(t *testing.T, conn *sqlx.DB) {
	t.Helper()
	_, err := conn.Exec(`TRUNCATE ledger_entries, provider_balances, disputes, fraud_assessments, bookings, slot_holds CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

// NewTestRedis возвращает клиент к отдельной базе Redis и чистит её после теста.
func NewTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR не задан, пропускаем интеграционные тесты Redis")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := db.NewRedis(ctx, addr, os.Getenv("TEST_REDIS_PASSWORD"), 15)
	if err != nil {
		t.Skipf("skipping Redis integration tests: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

func lockTestDB(t *testing.T, conn *sqlx.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Блокировка сессионная, поэтому держим отдельное соединение до конца теста.
	lockConn, err := conn.Connx(ctx)
	if err != nil {
		t.Fatalf("acquire lock conn: %v", err)
	}
	if _, err := lockConn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, testDBLockID); err != nil {
		_ = lockConn.Close()
		t.Fatalf("acquire test lock: %v", err)
	}
	t.Cleanup(func() {
		_, _ = lockConn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, testDBLockID)
		_ = lockConn.Close()
	})
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}
