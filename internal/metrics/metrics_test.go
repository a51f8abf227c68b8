package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	status Status
}

func (f fakeSource) StatusSync(now time.Time) Status { return f.status }

func TestCollectorReportsStatus(t *testing.T) {
	src := fakeSource{status: Status{
		Uptime:          90 * time.Second,
		EncryptEnabled:  true,
		MACMode:         "slotted",
		TimeStratum:     2,
		TimeSynced:      true,
		NeighborCount:   4,
		RouteCount:      7,
		PendingAcks:     1,
		PartitionEvents: 3,
		NonceExhausted:  false,
	}}
	c := NewCollector(src, func() time.Time { return time.Unix(0, 0) })

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, fam := range families {
		for _, m := range fam.Metric {
			values[fam.GetName()] = metricValue(m)
		}
	}

	assert.Equal(t, 90.0, values["meshnode_uptime_seconds"])
	assert.Equal(t, 4.0, values["meshnode_neighbor_count"])
	assert.Equal(t, 7.0, values["meshnode_route_count"])
	assert.Equal(t, 1.0, values["meshnode_pending_acks"])
	assert.Equal(t, 3.0, values["meshnode_partition_events_total"])
	assert.Equal(t, 2.0, values["meshnode_time_stratum"])
	assert.Equal(t, 1.0, values["meshnode_time_synced"])
	assert.Equal(t, 1.0, values["meshnode_encrypt_enabled"])
	assert.Equal(t, 0.0, values["meshnode_nonce_exhausted"])
	assert.Equal(t, 1.0, values["meshnode_mac_mode"])
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Counter != nil:
		return m.Counter.GetValue()
	default:
		return 0
	}
}
