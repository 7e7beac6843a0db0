package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxyhq/galaxy/pkg/constellation"
	"github.com/galaxyhq/galaxy/pkg/registry"
	"github.com/galaxyhq/galaxy/pkg/types"
)

func TestCollectorPollsRegistryAndConstellation(t *testing.T) {
	reg := registry.New()
	reg.Register("d1", "ws://d1", "linux", nil, nil, 3)
	require.NoError(t, reg.SetIdle("d1"))

	c := NewCollector(reg, time.Millisecond)
	c.Start()
	defer c.Stop()

	con := constellation.New("metrics")
	require.NoError(t, con.AddTask(&constellation.Task{ID: "a"}))

	// Swapping the source while collects are running must be safe.
	for i := 0; i < 100; i++ {
		c.SetConstellationSource(func() *constellation.Constellation { return con })
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(TasksTotal.WithLabelValues(string(types.TaskPending))) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(DevicesTotal.WithLabelValues(string(types.DeviceIdle))))
}
