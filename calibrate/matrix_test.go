package calibrate

import (
	"testing"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/magiconair/properties/assert"
)

func startedState(hopper int, stage string) *BucketStageState {
	st := newBucketStageState(hopper, stage)
	st.transit(NotStarted, InProgress)
	return st
}

func sinkEvents(allCompleted *int) Events {
	return &EventFuncs{
		AllCompleted: func(snapshot map[int]map[string]*BucketStageState) {
			if allCompleted != nil {
				*allCompleted++
			}
		},
	}
}

func TestStageOrderingEnforced(t *testing.T) {
	m := NewMatrix(sinkEvents(nil))
	defer func() {
		assert.Equal(t, recover() != nil, true)
	}()
	// fine-time may not start while coarse-time never succeeded.
	m.StartStage(1, startedState(1, configs.StageFineTime))
}

func TestSingleStageInProgressPerHopper(t *testing.T) {
	m := NewMatrix(sinkEvents(nil))
	st := startedState(1, configs.StageCoarseTime)
	m.StartStage(1, st)
	st.markSuccess(ParamSet{CoarseSpeed: 64})
	m.CompleteStage(1, configs.StageCoarseTime, true)

	m.StartStage(1, startedState(1, configs.StageFlightMaterial))
	defer func() {
		assert.Equal(t, recover() != nil, true)
	}()
	// restarting coarse while flight is still running must be rejected.
	m.StartStage(1, startedState(1, configs.StageCoarseTime))
}

func TestSuccessIsTerminal(t *testing.T) {
	st := startedState(2, configs.StageCoarseTime)
	st.markSuccess(ParamSet{})
	defer func() {
		assert.Equal(t, recover() != nil, true)
	}()
	st.markFailure("late failure")
}

func TestFailureRequiresReason(t *testing.T) {
	st := startedState(2, configs.StageCoarseTime)
	defer func() {
		assert.Equal(t, recover() != nil, true)
	}()
	st.markFailure("")
}

func completeHopper(m *Matrix, hopper int) {
	for _, stage := range stageOrder {
		st := startedState(hopper, stage)
		m.StartStage(hopper, st)
		st.markSuccess(ParamSet{})
		m.CompleteStage(hopper, stage, true)
	}
}

func TestAllCompletedFiresExactlyOnce(t *testing.T) {
	fired := 0
	m := NewMatrix(sinkEvents(&fired))

	// every hopper starts before any finishes, like the real batch start.
	states := make([]*BucketStageState, 0)
	for h := 1; h <= configs.NumberOfHoppers; h++ {
		st := startedState(h, configs.StageCoarseTime)
		m.StartStage(h, st)
		states = append(states, st)
	}
	// hopper 1 fails at coarse, the rest run to the end.
	states[0].markFailure("no compliant coarse time")
	m.CompleteStage(1, configs.StageCoarseTime, false)
	assert.Equal(t, 0, fired)

	for h := 2; h <= configs.NumberOfHoppers; h++ {
		states[h-1].markSuccess(ParamSet{})
		m.CompleteStage(h, configs.StageCoarseTime, true)
		for _, stage := range stageOrder[1:] {
			st := startedState(h, stage)
			m.StartStage(h, st)
			st.markSuccess(ParamSet{})
			m.CompleteStage(h, stage, true)
		}
	}
	assert.Equal(t, 1, fired)
	assert.Equal(t, true, m.IsAllCompleted())

	successes, failures, total := m.Counts()
	assert.Equal(t, configs.NumberOfHoppers-1, successes)
	assert.Equal(t, 1, failures)
	assert.Equal(t, configs.NumberOfHoppers, total)
}

func TestResetRearmsAllCompleted(t *testing.T) {
	fired := 0
	m := NewMatrix(sinkEvents(&fired))
	completeHopper(m, 1)
	assert.Equal(t, 1, fired)

	m.Reset()
	assert.Equal(t, false, m.IsAllCompleted())
	completeHopper(m, 1)
	assert.Equal(t, 2, fired)
}

func TestSnapshotIsDetached(t *testing.T) {
	m := NewMatrix(sinkEvents(nil))
	st := startedState(1, configs.StageCoarseTime)
	st.Samples = []float64{11.2}
	m.StartStage(1, st)

	snap := m.Snapshot()
	snap[1][configs.StageCoarseTime].Samples[0] = 99
	assert.Equal(t, 11.2, m.State(1, configs.StageCoarseTime).Samples[0])
}

func TestResetStageOnlyForFailures(t *testing.T) {
	m := NewMatrix(sinkEvents(nil))
	st := startedState(1, configs.StageCoarseTime)
	m.StartStage(1, st)
	st.markSuccess(ParamSet{})
	m.CompleteStage(1, configs.StageCoarseTime, true)
	defer func() {
		assert.Equal(t, recover() != nil, true)
	}()
	m.ResetStage(1, configs.StageCoarseTime)
}
