package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxyhq/galaxy/pkg/constellation"
	"github.com/galaxyhq/galaxy/pkg/types"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
heartbeat_interval_s: 10
devices:
  - device_id: laptop
    server_url: ws://laptop:9000
`))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay())
	assert.Equal(t, 600*time.Second, cfg.ModificationTimeout())
	assert.Equal(t, 1, cfg.MaxConcurrentTasksPerDevice)
	assert.Equal(t, 5, cfg.DeviceMaxRetries)

	require.Len(t, cfg.Devices, 1)
	d := cfg.Devices[0]
	assert.Equal(t, "laptop", d.DeviceID)
	assert.True(t, d.ShouldAutoConnect())
	assert.Equal(t, 5, d.MaxRetries)
}

func TestParseFractionalSeconds(t *testing.T) {
	cfg, err := Parse([]byte(`reconnect_delay_s: 0.5`))
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectDelay())
}

func TestExplicitConcurrencyOfOneAccepted(t *testing.T) {
	cfg, err := Parse([]byte(`max_concurrent_tasks_per_device: 1`))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.MaxConcurrentTasksPerDevice)
}

func TestDeviceOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
device_max_retries: 3
devices:
  - device_id: phone
    server_url: ws://phone:9000
    os: android
    capabilities: [camera, gps]
    metadata:
      rack: edge-2
    auto_connect: false
    max_retries: 8
`))
	require.NoError(t, err)

	d := cfg.Devices[0]
	assert.False(t, d.ShouldAutoConnect())
	assert.Equal(t, 8, d.MaxRetries)
	assert.Equal(t, []string{"camera", "gps"}, d.Capabilities)
	assert.Equal(t, "edge-2", d.Metadata["rack"])
}

func TestValidateRejectsBadDevices(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name:    "missing device_id",
			yaml:    "devices:\n  - server_url: ws://x\n",
			wantErr: ErrMissingDeviceID,
		},
		{
			name:    "missing server_url",
			yaml:    "devices:\n  - device_id: d1\n",
			wantErr: ErrMissingServerURL,
		},
		{
			name:    "duplicate device_id",
			yaml:    "devices:\n  - {device_id: d1, server_url: ws://a}\n  - {device_id: d1, server_url: ws://b}\n",
			wantErr: ErrDuplicateDevice,
		},
		{
			name:    "per-device concurrency above one",
			yaml:    "max_concurrent_tasks_per_device: 2\n",
			wantErr: ErrUnsupportedConcurrency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

const sampleManifest = `
apiVersion: galaxy.dev/v1alpha1
kind: Constellation
metadata:
  name: nightly-report
spec:
  tasks:
    - id: collect
      device_id: db-box
      parameters:
        query: "select count(*) from runs"
    - id: render
      priority: high
    - id: notify
      required_capabilities: [mail]
  dependencies:
    - from: collect
      to: render
    - from: render
      to: notify
      kind: unconditional
    - from: collect
      to: notify
      kind: condition_with_keyword
      trigger_keyword: empty
  assignments:
    render: cpu-box
`

func TestManifestBuild(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)
	assert.Equal(t, "nightly-report", m.Metadata.Name)
	assert.Equal(t, "cpu-box", m.Spec.Assignments["render"])

	con, err := m.Build()
	require.NoError(t, err)

	assert.Equal(t, "nightly-report", con.Name)
	assert.Equal(t, 3, con.Statistics().Total)

	collect, ok := con.Task("collect")
	require.True(t, ok)
	assert.Equal(t, "db-box", collect.DeviceID)
	assert.Equal(t, "collect", collect.Name)
	assert.Equal(t, "select count(*) from runs", collect.Parameters["query"])

	render, ok := con.Task("render")
	require.True(t, ok)
	assert.Equal(t, types.PriorityHigh, render.Priority)
	assert.Equal(t, types.TaskWaitingDependency, render.Status)

	deps := con.Dependencies()
	require.Len(t, deps, 3)
	kinds := make(map[types.DependencyKind]int)
	for _, d := range deps {
		kinds[d.Kind]++
	}
	assert.Equal(t, 1, kinds[types.DependencySuccessOnly])
	assert.Equal(t, 1, kinds[types.DependencyUnconditional])
	assert.Equal(t, 1, kinds[types.DependencyConditionKeyword])
}

func TestManifestEnvelopeValidation(t *testing.T) {
	_, err := ParseManifest([]byte("apiVersion: v9\nkind: Constellation\n"))
	assert.ErrorIs(t, err, ErrUnsupportedAPIVersion)

	_, err = ParseManifest([]byte("apiVersion: galaxy.dev/v1alpha1\nkind: Rocket\n"))
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestManifestRejectsCycle(t *testing.T) {
	m, err := ParseManifest([]byte(`
apiVersion: galaxy.dev/v1alpha1
kind: Constellation
metadata:
  name: loop
spec:
  tasks:
    - id: a
    - id: b
  dependencies:
    - {from: a, to: b}
    - {from: b, to: a}
`))
	require.NoError(t, err)

	_, err = m.Build()
	assert.ErrorIs(t, err, constellation.ErrCycleDetected)
}

func TestManifestRejectsUnknownEnums(t *testing.T) {
	m, err := ParseManifest([]byte(`
apiVersion: galaxy.dev/v1alpha1
kind: Constellation
metadata: {name: bad}
spec:
  tasks:
    - id: a
      priority: urgent
`))
	require.NoError(t, err)
	_, err = m.Build()
	assert.ErrorIs(t, err, ErrUnknownPriority)
}
