package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveBooking("regular", "ok")
	m.ObserveBooking("regular", "ok")
	m.ObserveBooking("golden", "capacity_exceeded")
	m.ObserveStatusChange("regular", "cancelled")
	m.ObserveArchiveUnit("golden", "archived")
	m.ObservePoll("ok")
	m.ObserveCacheLookup(true)
	m.ObserveCacheLookup(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookings.WithLabelValues("regular", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookings.WithLabelValues("golden", "capacity_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.archiveUnits.WithLabelValues("golden", "archived")))
}

func TestSubscriptionGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())

	done1 := m.SubscriptionOpened()
	done2 := m.SubscriptionOpened()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.subscriptions))

	done1()
	done2()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.subscriptions))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveBooking("regular", "ok")
	m.ObservePoll("error")
	m.SubscriptionOpened()()
}

func TestCustomRegistryCollects(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveStatusChange("regular", "served")

	n, err := testutil.GatherAndCount(reg, "clinicqueue_status_changes_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}
