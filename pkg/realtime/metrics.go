package realtime

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	sendOK      = "ok"
	sendDropped = "dropped"
	sendFailed  = "error"
)

// dispatchBuckets are histogram boundaries (seconds) for synchronous handler
// time; anything above a few milliseconds stalls the read loop.
var dispatchBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

type instruments struct {
	frames   metric.Int64Counter
	sends    metric.Int64Counter
	dispatch metric.Float64Histogram
	state    metric.Int64Gauge

	malformed metric.MeasurementOption
	unhandled metric.MeasurementOption
}

func newInstruments(m metric.Meter, log *slog.Logger) *instruments {
	in := &instruments{
		malformed: metric.WithAttributeSet(attribute.NewSet(attribute.String("outcome", OutcomeMalformed.String()))),
		unhandled: metric.WithAttributeSet(attribute.NewSet(attribute.String("outcome", OutcomeUnhandled.String()))),
	}
	var err error
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	if in.frames, err = m.Int64Counter("rtbridge.realtime.frames",
		metric.WithDescription("Inbound frames by outcome."),
		metric.WithUnit("{frame}"),
	); err != nil {
		log.Warn("realtime: create metric", "err", err)
		in.frames, _ = fallback.Int64Counter("frames")
	}
	if in.sends, err = m.Int64Counter("rtbridge.realtime.sends",
		metric.WithDescription("Outbound events by type and status."),
		metric.WithUnit("{event}"),
	); err != nil {
		log.Warn("realtime: create metric", "err", err)
		in.sends, _ = fallback.Int64Counter("sends")
	}
	if in.dispatch, err = m.Float64Histogram("rtbridge.realtime.dispatch.duration",
		metric.WithDescription("Time spent running processors for one inbound frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(dispatchBuckets...),
	); err != nil {
		log.Warn("realtime: create metric", "err", err)
		in.dispatch, _ = fallback.Float64Histogram("dispatch")
	}
	if in.state, err = m.Int64Gauge("rtbridge.realtime.connection.state",
		metric.WithDescription("Connection state: 0 disconnected, 1 connecting, 2 open, 3 closed, 4 error."),
	); err != nil {
		log.Warn("realtime: create metric", "err", err)
		in.state, _ = fallback.Int64Gauge("state")
	}
	return in
}

func (in *instruments) recordFrame(o Outcome, typ string) {
	ctx := context.Background()
	switch o {
	case OutcomeMalformed:
		in.frames.Add(ctx, 1, in.malformed)
	case OutcomeUnhandled:
		in.frames.Add(ctx, 1, in.unhandled)
	default:
		in.frames.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", o.String()),
			attribute.String("type", typ),
		))
	}
}

func (in *instruments) recordDispatch(typ string, d time.Duration) {
	in.dispatch.Record(context.Background(), d.Seconds(),
		metric.WithAttributes(attribute.String("type", typ)),
	)
}

func (in *instruments) recordSend(ctx context.Context, typ, status string) {
	in.sends.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", typ),
		attribute.String("status", status),
	))
}

func (in *instruments) recordState(s State) {
	in.state.Record(context.Background(), int64(s))
}
