package common

import (
	"errors"

	"github.com/lib/pq"
)

// ErrStaleVersion - строку успели изменить между чтением и записью.
var ErrStaleVersion = errors.New("stale version")

// Коды ошибок PostgreSQL, которые разбираются репозиториями
const (
	pgUniqueViolation = "23505"
	pgInvalidText     = "22P02"
)

// IsUniqueViolation - нарушено ограничение уникальности. Если задан constraint,
// проверяется ещё и имя индекса.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != pgUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// IsInvalidText - значение не разобралось в тип столбца (например, кривой UUID).
func IsInvalidText(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgInvalidText
}
