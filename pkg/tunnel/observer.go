package tunnel

import (
	"context"

	"github.com/zkswarm/zks-core/pkg/metrics"
)

// Observer provides hooks for session lifecycle, metrics, and tracing.
// Implementations should be lightweight; callbacks may run on hot paths.
type Observer interface {
	OnSessionStart()
	OnSessionEnd()
	OnEncrypt(ctx context.Context, plaintextLen int) (context.Context, func(error))
	OnDecrypt(ctx context.Context, ciphertextLen int) (context.Context, func(error))
	OnReplayDetected()
	OnAuthFailure()
	OnRotationStart(ctx context.Context) (context.Context, func(error))
	OnProtocolError(err error)
}

// NopObserver is an Observer that does nothing.
type NopObserver struct{}

func (NopObserver) OnSessionStart()     {}
func (NopObserver) OnSessionEnd()       {}
func (NopObserver) OnReplayDetected()   {}
func (NopObserver) OnAuthFailure()      {}
func (NopObserver) OnProtocolError(error) {}

func (NopObserver) OnEncrypt(ctx context.Context, _ int) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (NopObserver) OnDecrypt(ctx context.Context, _ int) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (NopObserver) OnRotationStart(ctx context.Context) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// CollectorObserver feeds session callbacks into a metrics collector and
// opens tracing spans around the crypto operations.
type CollectorObserver struct {
	stats  *metrics.Collector
	tracer metrics.Tracer
}

// NewCollectorObserver builds an observer backed by the given collector.
// A nil tracer uses the global tracer.
func NewCollectorObserver(stats *metrics.Collector, tracer metrics.Tracer) *CollectorObserver {
	if tracer == nil {
		tracer = metrics.GetTracer()
	}
	return &CollectorObserver{stats: stats, tracer: tracer}
}

func (o *CollectorObserver) OnSessionStart() {}
func (o *CollectorObserver) OnSessionEnd()   {}

func (o *CollectorObserver) OnEncrypt(ctx context.Context, plaintextLen int) (context.Context, func(error)) {
	ctx, end := o.tracer.StartSpan(ctx, metrics.SpanEncrypt)
	return ctx, func(err error) {
		if err == nil {
			o.stats.FrameSealed(plaintextLen)
		}
		end(err)
	}
}

func (o *CollectorObserver) OnDecrypt(ctx context.Context, ciphertextLen int) (context.Context, func(error)) {
	ctx, end := o.tracer.StartSpan(ctx, metrics.SpanDecrypt)
	return ctx, func(err error) {
		if err == nil {
			o.stats.FrameOpened(ciphertextLen)
		}
		end(err)
	}
}

func (o *CollectorObserver) OnReplayDetected() { o.stats.ReplayBlocked() }
func (o *CollectorObserver) OnAuthFailure()    { o.stats.AuthFailure() }

func (o *CollectorObserver) OnRotationStart(ctx context.Context) (context.Context, func(error)) {
	ctx, end := o.tracer.StartSpan(ctx, metrics.SpanRotate)
	o.stats.RotationStarted()
	return ctx, func(err error) {
		if err == nil {
			o.stats.RotationCompleted()
		} else {
			o.stats.RotationFailed()
		}
		end(err)
	}
}

func (o *CollectorObserver) OnProtocolError(error) {}
