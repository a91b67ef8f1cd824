// Package calibrate drives each hopper through the four calibration stages.
// One worker goroutine owns one hopper per stage; the shared bus, the polling
// engine, and the analysis client are injected collaborators.
package calibrate

import (
	"fmt"
	"sync"
	"time"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
)

// StageStatus of one (hopper, stage) entry.
type StageStatus uint8

const (
	NotStarted StageStatus = iota
	InProgress
	Succeeded
	Failed
)

func (s StageStatus) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Succeeded:
		return "success"
	case Failed:
		return "failure"
	}
	return "unknown"
}

// Terminal reports whether the status is final for the session.
func (s StageStatus) Terminal() bool {
	return s == Succeeded || s == Failed
}

// stageOrder is the fixed progression of a hopper through a session.
var stageOrder = []string{
	configs.StageCoarseTime,
	configs.StageFlightMaterial,
	configs.StageFineTime,
	configs.StageAdaptiveLearning,
}

func prevStage(stage string) string {
	for i, s := range stageOrder {
		if s == stage {
			if i == 0 {
				return ""
			}
			return stageOrder[i-1]
		}
	}
	configs.Assert(false, "unknown stage "+stage)
	return ""
}

// ParamSet is one complete control parameter set for a hopper.
type ParamSet struct {
	CoarseSpeed   float64  `json:"coarse_speed"`
	FineSpeed     float64  `json:"fine_speed"`
	CoarseAdvance float64  `json:"coarse_advance"`
	FallValue     float64  `json:"fall_value"`
	FlowRate      *float64 `json:"flow_rate,omitempty"`
}

// BucketStageState tracks one hopper through one stage. It is mutated only by
// the owning stage worker under its latch; the aggregator and the GUI read
// snapshots.
type BucketStageState struct {
	latch *sync.Mutex

	Hopper int
	Stage  string
	Status StageStatus

	Attempt int
	// adaptive-learning bookkeeping; Consecutive survives round boundaries.
	Round       int
	Consecutive int

	StartTime time.Time
	EndTime   time.Time

	CoarseTimeMs int64
	TotalCycleMs int64
	ErrorValue   float64
	Samples      []float64

	Trial ParamSet
	Final *ParamSet

	Reason string
}

func newBucketStageState(hopper int, stage string) *BucketStageState {
	return &BucketStageState{
		latch:  &sync.Mutex{},
		Hopper: hopper,
		Stage:  stage,
		Status: NotStarted,
	}
}

// transit moves the status, panicking on an illegal transition the same way
// the PLC sequences panic on impossible coil states: both are programming
// errors, not runtime conditions.
func (st *BucketStageState) transit(begin StageStatus, end StageStatus) {
	st.latch.Lock()
	defer st.latch.Unlock()
	if st.Status == end {
		return
	}
	if st.Status != begin {
		panic(fmt.Sprintf("incorrect status %v for bucket %v stage %v", st.Status, st.Hopper, st.Stage))
	}
	if st.Status == Succeeded {
		panic(fmt.Sprintf("bucket %v stage %v may not leave success", st.Hopper, st.Stage))
	}
	st.Status = end
	switch end {
	case InProgress:
		st.StartTime = time.Now()
	case Succeeded, Failed:
		st.EndTime = time.Now()
	}
}

func (st *BucketStageState) markSuccess(final ParamSet) {
	st.transit(InProgress, Succeeded)
	st.latch.Lock()
	st.Final = &final
	st.latch.Unlock()
}

func (st *BucketStageState) markFailure(reason string) {
	configs.Assert(reason != "", "a failed stage requires a reason")
	st.transit(InProgress, Failed)
	st.latch.Lock()
	st.Reason = reason
	st.latch.Unlock()
}

// snapshot returns a copy safe to hand to observers.
func (st *BucketStageState) snapshot() *BucketStageState {
	st.latch.Lock()
	defer st.latch.Unlock()
	cp := *st
	cp.latch = &sync.Mutex{}
	cp.Samples = append([]float64(nil), st.Samples...)
	if st.Final != nil {
		f := *st.Final
		cp.Final = &f
	}
	return &cp
}
