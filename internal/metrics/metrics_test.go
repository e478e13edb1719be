package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewTransport(reg)
	require.NoError(t, err)

	m.Sent(KindCommand)
	m.Sent(KindCommand)
	m.Sent(KindDiscovery)
	m.SendFailed(KindDiscovery)
	m.Published(3)
	m.QueueDepth(5)
	m.Listening(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sent.WithLabelValues(KindCommand)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sent.WithLabelValues(KindDiscovery)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sendErrs.WithLabelValues(KindDiscovery)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.dropped))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.queue))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.listening))
}

func TestTransport_DoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewTransport(reg)
	require.NoError(t, err)

	_, err = NewTransport(reg)
	assert.Error(t, err)
}

func TestTransport_NilIsNoop(t *testing.T) {
	var m *Transport
	m.Sent(KindCommand)
	m.SendFailed(KindCommand)
	m.Postponed()
	m.Received()
	m.Rejected()
	m.Published(1)
	m.QueueDepth(1)
	m.Listening(true)
}
