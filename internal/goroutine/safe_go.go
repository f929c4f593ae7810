package goroutine

import (
	"context"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/booking-core/internal/logger"
)

// Logger - то, что нужно обработчику паники от логгера.
type Logger interface {
	WithField(key string, value any) *logrus.Entry
}

// RecoveryHandler перехватывает panic в фоновых горутинах, чтобы процесс не падал.
type RecoveryHandler struct {
	logger Logger
}

func NewRecoveryHandler(l Logger) *RecoveryHandler {
	return &RecoveryHandler{logger: l}
}

// SafeGoWithContext запускает горутину с контекстом и обработкой panic
func (rh *RecoveryHandler) SafeGoWithContext(ctx context.Context, name string, fn func(context.Context)) {
	go func() {
		defer rh.recover(name)
		fn(ctx)
	}()
}

func (rh *RecoveryHandler) recover(name string) {
	if r := recover(); r != nil {
		rh.logger.WithField("goroutine", name).
			WithField("stack", string(debug.Stack())).
			Errorf("panic в фоновой задаче: %v", r)
	}
}

// SafeGoWithContext - горутина с обработкой panic через общий логгер
func SafeGoWithContext(ctx context.Context, name string, fn func(context.Context)) {
	NewRecoveryHandler(logger.Log).SafeGoWithContext(ctx, name, fn)
}
