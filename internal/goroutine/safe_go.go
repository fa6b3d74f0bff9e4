package goroutine

import (
	"context"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// SafeGo запускает горутину с обработкой panic: упавший фоновый воркер
// не валит процесс, паника уходит в лог со стеком.
func SafeGo(log *logrus.Entry, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Panic in goroutine: %v\nStack trace:\n%s", r, debug.Stack())
			}
		}()
		fn()
	}()
}

// SafeGoWithContext запускает горутину с контекстом и обработкой panic.
func SafeGoWithContext(ctx context.Context, log *logrus.Entry, fn func(context.Context)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Panic in goroutine: %v\nStack trace:\n%s", r, debug.Stack())
			}
		}()
		fn(ctx)
	}()
}
