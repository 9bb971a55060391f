package reliability

import (
	"context"
	"errors"

	"lessonlive/internal/core/domain"
	"lessonlive/pkg/circuitbreaker"
	"lessonlive/pkg/retry"
	"lessonlive/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Guard runs store calls through a retry loop and a circuit breaker. Domain
// outcomes such as "not found" pass straight through and never trip the
// breaker.
type Guard struct {
	name        string
	retryConfig retry.Config
	breaker     *circuitbreaker.CircuitBreaker
	logger      *zap.SugaredLogger
}

func NewGuard(name string, retryConfig retry.Config, cbConfig circuitbreaker.Config, logger *zap.SugaredLogger) *Guard {
	retryConfig.Retryable = isTransient
	cbConfig.IsFailure = isTransient

	g := &Guard{
		name:        name,
		retryConfig: retryConfig,
		breaker:     circuitbreaker.New(name, cbConfig),
		logger:      logger,
	}
	g.breaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
		logger.Warnw("circuit breaker state changed",
			"breaker", name,
			"from", from.String(),
			"to", to.String(),
		)
	})
	return g
}

func (g *Guard) Breaker() *circuitbreaker.CircuitBreaker {
	return g.breaker
}

// call runs fn under one store span covering every retry attempt.
func (g *Guard) call(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) error {
	ctx, span := tracing.TraceStoreOperation(ctx, g.name, op)
	defer span.End()
	tracing.AddSpanAttributes(ctx, attrs...)

	run := func(ctx context.Context) error {
		return g.breaker.Execute(ctx, fn)
	}
	var err error
	if g.retryConfig.Enabled {
		err = retry.Do(ctx, g.retryConfig, run)
	} else {
		err = run(ctx)
	}
	if isTransient(err) {
		tracing.RecordError(ctx, err)
	}
	return err
}

func guardResult[T any](ctx context.Context, g *Guard, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.call(ctx, op, attrs, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := domain.RejectionReason(err); ok {
		return false
	}
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, domain.ErrRecordNotFound),
		errors.Is(err, domain.ErrNoteNotFound),
		errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrRoomExists):
		return false
	}
	return true
}

func roomAttrs(roomID domain.RoomID) []attribute.KeyValue {
	return []attribute.KeyValue{tracing.RoomIDKey.String(string(roomID))}
}

func memberAttrs(roomID domain.RoomID, identity domain.Identity) []attribute.KeyValue {
	return []attribute.KeyValue{
		tracing.RoomIDKey.String(string(roomID)),
		tracing.IdentityKey.String(string(identity)),
	}
}
