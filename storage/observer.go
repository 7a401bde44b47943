package storage

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-gateway/instrumentation"
)

// Observer emits a span and storage metrics around each store operation.
// A nil *Observer is valid and records nothing.
type Observer struct {
	storageType string
	inst        *instrumentation.Instrumentation
	tracer      trace.Tracer
}

// NewObserver returns an observer labelling its telemetry with storageType
// ("memory", "sqlite", "valkey"). inst may be nil.
func NewObserver(storageType string, inst *instrumentation.Instrumentation) *Observer {
	if inst == nil {
		return nil
	}
	return &Observer{
		storageType: storageType,
		inst:        inst,
		tracer:      inst.Tracer("storage"),
	}
}

// Start begins a storage operation. The returned function must be called
// exactly once with the operation's error to end the span and record metrics.
func (o *Observer) Start(ctx context.Context, operation string) (context.Context, func(error)) {
	if o == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, o.storageType)

	return ctx, func(err error) {
		defer span.End()

		result := "success"
		switch {
		case err == nil:
			instrumentation.SetSpanSuccess(span)
		case isNotFound(err):
			// lookups that miss are an expected outcome, not a failure
			result = "not_found"
		default:
			result = "error"
			instrumentation.RecordError(span, err)
		}

		durationMs := float64(time.Since(start).Microseconds()) / 1000
		o.inst.Metrics().RecordStorageOperation(ctx, o.storageType, operation, result, durationMs)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionExpired)
}
