package notifications

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// InstrumentedNotifier counts publish outcomes per channel.
type InstrumentedNotifier struct {
	inner   Notifier
	results *prometheus.CounterVec
}

func NewInstrumentedNotifier(inner Notifier, results *prometheus.CounterVec) *InstrumentedNotifier {
	return &InstrumentedNotifier{
		inner:   inner,
		results: results,
	}
}

func (n *InstrumentedNotifier) SendAgencyNameChange(ctx context.Context, input AgencyNameChangeInput) error {
	err := n.inner.SendAgencyNameChange(ctx, input)

	result := "ok"

	if err != nil {
		result = "error"
	}
	n.results.WithLabelValues(AgencyNameChangeChannel, result).Inc()

	return err
}
