package orchestrator

import (
	"fmt"
	"sync"

	"github.com/galaxyhq/galaxy/pkg/constellation"
	"github.com/galaxyhq/galaxy/pkg/types"
)

// Strategy picks a device for a task that carries no explicit
// assignment. Candidates are the currently online devices.
type Strategy interface {
	Pick(task *constellation.Task, candidates []*types.Device) (string, error)
}

// RoundRobin cycles through eligible devices in registry order. Devices
// that do not satisfy the task's required capabilities are skipped.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

// NewRoundRobin creates a round-robin assignment strategy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Pick returns the next eligible device id.
func (r *RoundRobin) Pick(task *constellation.Task, candidates []*types.Device) (string, error) {
	eligible := make([]*types.Device, 0, len(candidates))
	for _, d := range candidates {
		if d.HasCapabilities(task.RequiredCapabilities) {
			eligible = append(eligible, d)
		}
	}
	if len(eligible) == 0 {
		return "", fmt.Errorf("%w: task %s requires %v", ErrNoEligibleDevice, task.ID, task.RequiredCapabilities)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	d := eligible[r.next%len(eligible)]
	r.next++
	return d.ID, nil
}
