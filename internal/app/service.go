package app

import (
	"context"
	"io"
)

type Service interface {
	Run(ctx context.Context) error
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context) error

func (f ServiceFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Detached runs s with a context that is never cancelled. s must stop by
// other means, such as its input being closed by another service.
func Detached(s Service) Service {
	return ServiceFunc(func(ctx context.Context) error {
		return s.Run(context.WithoutCancel(ctx))
	})
}

// Closer adapts a component that starts on construction and stops on Close.
func Closer(start func(ctx context.Context) io.Closer) Service {
	return ServiceFunc(func(ctx context.Context) error {
		c := start(ctx)
		<-ctx.Done()
		return c.Close()
	})
}
