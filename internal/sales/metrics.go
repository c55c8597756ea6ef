package sales

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

type metrics struct {
	created     metric.Int64Counter
	failed      metric.Int64Counter
	transitions metric.Int64Counter
	retries     metric.Int64Counter
}

func newMetrics(logger *zap.Logger) *metrics {
	meter := otel.Meter("pos_sales/sales")
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Warn("failed to create counter", zap.String("name", name), zap.Error(err))
			return noop.Int64Counter{}
		}
		return c
	}

	return &metrics{
		created:     counter("sales.created", "Sales recorded by the reservation protocol"),
		failed:      counter("sales.failed", "Sale operations that returned an error"),
		transitions: counter("sales.status_transitions", "Applied sale status transitions"),
		retries:     counter("sales.tx_retries", "Atomic scopes re-run after a transient storage failure"),
	}
}

// metricAttrs turns key/value pairs into an attribute option.
func metricAttrs(kv ...string) metric.AddOption {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	return metric.WithAttributes(attrs...)
}
