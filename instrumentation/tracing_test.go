package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracedInstrumentation(t *testing.T) (*Instrumentation, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	inst, err := New(Config{
		Enabled:       true,
		MetricReader:  sdkmetric.NewManualReader(),
		SpanProcessor: recorder,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst, recorder
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSpanHelpers(t *testing.T) {
	inst, recorder := newTracedInstrumentation(t)

	_, okSpan := inst.Tracer("gateway").Start(context.Background(), "ok")
	AddClientAttributes(okSpan, "client-1", "token")
	AddQuotaAttributes(okSpan, 100, 42, 120, false)
	SetSpanSuccess(okSpan)
	okSpan.End()

	_, errSpan := inst.Tracer("gateway").Start(context.Background(), "failed")
	RecordError(errSpan, errors.New("boom"))
	AddErrorAttributes(errSpan, "server_error", "boom")
	errSpan.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}

	ok := spans[0]
	if ok.Status().Code != codes.Ok {
		t.Errorf("ok span status = %v, want Ok", ok.Status().Code)
	}
	if v, found := attrValue(ok.Attributes(), AttrClientID); !found || v.AsString() != "client-1" {
		t.Errorf("%s = %v, want client-1", AttrClientID, v.AsString())
	}
	if v, found := attrValue(ok.Attributes(), AttrQuotaCount); !found || v.AsInt64() != 42 {
		t.Errorf("%s = %d, want 42", AttrQuotaCount, v.AsInt64())
	}

	failed := spans[1]
	if failed.Status().Code != codes.Error {
		t.Errorf("failed span status = %v, want Error", failed.Status().Code)
	}
	if len(failed.Events()) == 0 {
		t.Error("RecordError() should add an exception event")
	}
}

func TestSpanHelpers_NilSafe(t *testing.T) {
	RecordError(nil, errors.New("x"))
	SetSpanSuccess(nil)
	SetSpanError(nil, "x")
	SetSpanAttributes(nil, attribute.String("k", "v"))
	AddClientAttributes(nil, "c", "token")
	AddStorageAttributes(nil, "get", "memory")
	AddHTTPAttributes(nil, "GET", "/", 200)
}
