package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue sums the samples of name whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	assert.NoError(t, m.Track("notification:deliver").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("notification:deliver").End(boom), boom)

	job := map[string]string{"job": "notification:deliver"}
	assert.Equal(t, 2.0, counterValue(t, reg, "gapt_jobs_total", job))
	assert.Equal(t, 1.0, counterValue(t, reg, "gapt_jobs_total", map[string]string{"job": "notification:deliver", "status": "failure"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "gapt_jobs_failures_total", job))
}

func TestAddDelivered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AddDelivered("EDIT_REQUEST", 3)
	m.AddDelivered("EDIT_REQUEST", 0)

	assert.Equal(t, 2.0, counterValue(t, reg, "gapt_notifications_delivered_total", map[string]string{"kind": "EDIT_REQUEST"}))
	assert.Equal(t, 3.0, counterValue(t, reg, "gapt_notification_receivers_total", nil))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddDelivered("SYSTEM", 1)
	assert.NoError(t, m.Track("x").End(nil))
}
