package calibrate

import (
	"sync"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	mapset "github.com/deckarep/golang-set"
)

// Matrix is the learning-state aggregator: it mirrors every (hopper, stage)
// transition the controllers publish and fires the all-complete event exactly
// once per session, after the active-hopper set drains.
type Matrix struct {
	latch   *sync.Mutex
	entries map[int]map[string]*BucketStageState
	// hoppers still progressing through the session. A hopper leaves on its
	// first stage failure or on adaptive-learning success.
	active mapset.Set
	fired  bool
	events Events
}

func NewMatrix(events Events) *Matrix {
	configs.Assert(events != nil, "the matrix requires an event sink")
	return &Matrix{
		latch:   &sync.Mutex{},
		entries: make(map[int]map[string]*BucketStageState),
		active:  mapset.NewSet(),
		events:  events,
	}
}

// Reset clears the matrix and rearms the all-complete edge for a new session.
func (m *Matrix) Reset() {
	m.latch.Lock()
	defer m.latch.Unlock()
	m.entries = make(map[int]map[string]*BucketStageState)
	m.active = mapset.NewSet()
	m.fired = false
}

// ResetHopper drops every entry of one hopper so it can rerun from the first
// stage. The hopper rejoins the active set when its first stage starts.
func (m *Matrix) ResetHopper(hopper int) {
	m.latch.Lock()
	defer m.latch.Unlock()
	delete(m.entries, hopper)
}

// ResetStage drops a single failed entry so the stage can rerun in place.
func (m *Matrix) ResetStage(hopper int, stage string) {
	m.latch.Lock()
	defer m.latch.Unlock()
	st, ok := m.entries[hopper][stage]
	configs.Assert(ok && st.Status == Failed, "only a failed stage may be reset in place")
	delete(m.entries[hopper], stage)
}

// StartStage records a stage going in-progress for one hopper. The ordering
// invariant holds here: stage N+1 may not start before stage N succeeded, and
// a hopper has at most one stage in progress.
func (m *Matrix) StartStage(hopper int, st *BucketStageState) {
	m.latch.Lock()
	defer m.latch.Unlock()
	row := m.entries[hopper]
	if row == nil {
		row = make(map[string]*BucketStageState)
		m.entries[hopper] = row
	}
	if prev := prevStage(st.Stage); prev != "" {
		prevState, ok := row[prev]
		configs.Assert(ok && prevState.Status == Succeeded,
			"stage started before its predecessor succeeded")
	}
	for _, other := range row {
		configs.Assert(other.Stage == st.Stage || other.Status != InProgress,
			"a hopper may hold only one stage in progress")
	}
	row[st.Stage] = st
	m.active.Add(hopper)
}

// CompleteStage records a terminal outcome and publishes the state change.
// Fires OnAllCompleted when this completion empties the active set.
func (m *Matrix) CompleteStage(hopper int, stage string, success bool) {
	m.latch.Lock()
	st, ok := m.entries[hopper][stage]
	configs.Assert(ok, "completion for an unknown stage entry")
	configs.Assert(st.Status.Terminal(), "completion published before the terminal transit")
	if !success || stage == configs.StageAdaptiveLearning {
		m.active.Remove(hopper)
	}
	fireAll := !m.fired && m.active.Cardinality() == 0
	if fireAll {
		m.fired = true
	}
	snapshot := st.snapshot()
	var full map[int]map[string]*BucketStageState
	if fireAll {
		full = m.snapshotLocked()
	}
	m.latch.Unlock()

	m.events.OnBucketStateChanged(hopper, snapshot)
	if fireAll {
		m.events.OnAllCompleted(full)
	}
}

// Counts returns the per-hopper outcome tally of the current session.
func (m *Matrix) Counts() (successes int, failures int, total int) {
	m.latch.Lock()
	defer m.latch.Unlock()
	for _, row := range m.entries {
		total++
		failed := false
		for _, st := range row {
			if st.Status == Failed {
				failed = true
			}
		}
		if failed {
			failures++
		} else if st, ok := row[configs.StageAdaptiveLearning]; ok && st.Status == Succeeded {
			successes++
		}
	}
	return
}

// IsAllCompleted reports whether every hopper in the session is terminal.
func (m *Matrix) IsAllCompleted() bool {
	m.latch.Lock()
	defer m.latch.Unlock()
	return len(m.entries) > 0 && m.active.Cardinality() == 0
}

// State returns a snapshot of one entry, nil when absent.
func (m *Matrix) State(hopper int, stage string) *BucketStageState {
	m.latch.Lock()
	defer m.latch.Unlock()
	st, ok := m.entries[hopper][stage]
	if !ok {
		return nil
	}
	return st.snapshot()
}

func (m *Matrix) snapshotLocked() map[int]map[string]*BucketStageState {
	res := make(map[int]map[string]*BucketStageState, len(m.entries))
	for h, row := range m.entries {
		cp := make(map[string]*BucketStageState, len(row))
		for stage, st := range row {
			cp[stage] = st.snapshot()
		}
		res[h] = cp
	}
	return res
}

// Snapshot returns a copy of the whole matrix for reporting.
func (m *Matrix) Snapshot() map[int]map[string]*BucketStageState {
	m.latch.Lock()
	defer m.latch.Unlock()
	return m.snapshotLocked()
}
