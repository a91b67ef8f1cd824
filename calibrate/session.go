package calibrate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MIMAOC/packaging-machine-maste-sub000/analysis"
	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/MIMAOC/packaging-machine-maste-sub000/monitor"
	"github.com/MIMAOC/packaging-machine-maste-sub000/plc"
	"github.com/MIMAOC/packaging-machine-maste-sub000/storage"
	"github.com/MIMAOC/packaging-machine-maste-sub000/utils"
)

// Deps are the collaborators a session is built from. Bus, Commander, Engine,
// Analysis and Events are required; Store, Journal and Clock are optional.
type Deps struct {
	Bus       plc.Bus
	Commander *plc.Commander
	Engine    *monitor.Engine
	Analysis  *analysis.Client
	Store     storage.Store
	Journal   *storage.Journal
	Events    Events
	Clock     plc.Clock
}

// carry is the data a hopper drags from one stage into the next.
type carry struct {
	flightMaterial float64
	flowRate       *float64
}

// Session owns one calibration run over all six hoppers. Stage hand-off goes
// through advance, which spawns a fresh worker: a controller never invokes
// the next controller inside an edge callback.
type Session struct {
	bus     plc.Bus
	cmd     *plc.Commander
	engine  *monitor.Engine
	client  *analysis.Client
	store   storage.Store
	journal *storage.Journal
	events  Events
	clock   plc.Clock

	matrix *Matrix
	stat   *utils.Stat

	latch        *sync.Mutex
	running      bool
	material     string
	targetWeight float64
	initial      ParamSet
	waiters      [configs.NumberOfHoppers + 1]*edgeWaiter
	carries      [configs.NumberOfHoppers + 1]carry

	ctx    context.Context
	cancel context.CancelFunc

	coarse   *CoarseTimeController
	flight   *FlightMaterialController
	fine     *FineTimeController
	adaptive *AdaptiveLearningController
}

func NewSession(d Deps) *Session {
	configs.Assert(d.Bus != nil && d.Commander != nil && d.Engine != nil, "session requires the PLC collaborators")
	configs.Assert(d.Analysis != nil, "session requires the analysis client")
	configs.Assert(d.Events != nil, "session requires an event sink")
	if d.Clock == nil {
		d.Clock = plc.SystemClock
	}
	s := &Session{
		bus:     d.Bus,
		cmd:     d.Commander,
		engine:  d.Engine,
		client:  d.Analysis,
		store:   d.Store,
		journal: d.Journal,
		events:  d.Events,
		clock:   d.Clock,
		latch:   &sync.Mutex{},
	}
	s.matrix = NewMatrix(d.Events)
	s.coarse = newCoarseTimeController(s)
	s.flight = newFlightMaterialController(s)
	s.fine = newFineTimeController(s)
	s.adaptive = newAdaptiveLearningController(s)
	return s
}

// Matrix exposes the aggregator for reporting.
func (s *Session) Matrix() *Matrix { return s.matrix }

// Stat exposes the per-stage timing records of the last session.
func (s *Session) Stat() *utils.Stat { return s.stat }

// Start validates the target, resolves the initial parameter set, and batch
// starts the coarse-time stage on every hopper.
func (s *Session) Start(material string, targetWeight float64) error {
	if targetWeight < configs.MinTargetWeight || targetWeight > configs.MaxTargetWeight {
		return fmt.Errorf("target weight %.1fg out of range [%.0f, %.0f]",
			targetWeight, configs.MinTargetWeight, configs.MaxTargetWeight)
	}
	s.latch.Lock()
	if s.running {
		s.latch.Unlock()
		return errors.New("a calibration session is already running")
	}
	s.running = true
	s.material = material
	s.targetWeight = targetWeight
	s.matrix.Reset()
	s.stat = utils.NewStat()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for h := 1; h <= configs.NumberOfHoppers; h++ {
		s.waiters[h] = newEdgeWaiter(h, s.events)
		s.carries[h] = carry{}
	}
	s.initial = s.resolveInitialParams(material, targetWeight)
	s.latch.Unlock()

	s.events.OnLogMessage(fmt.Sprintf("calibration started: material %q target %.1fg coarse speed %.1f",
		material, targetWeight, s.initial.CoarseSpeed))
	if err := s.coarse.StartAll(); err != nil {
		s.latch.Lock()
		s.running = false
		s.latch.Unlock()
		return err
	}
	return nil
}

// Stop cancels the session cooperatively: flags first, then disarm, then the
// machine-level stop sequence.
func (s *Session) Stop() {
	s.latch.Lock()
	if !s.running {
		s.latch.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.latch.Unlock()

	cancel()
	s.engine.DisarmAll()
	if ok, msg := s.cmd.GlobalStop(); !ok {
		// a PLC that rejects the global stop is session-fatal either way.
		s.events.OnLogMessage("global stop failed: " + msg)
	}
	s.events.OnLogMessage("calibration session stopped by operator")
}

// RestartBucket reruns a failed hopper. ModeFromBeginning clears the hopper's
// matrix row and starts over at coarse-time with the session's initial
// parameters; ModeFromCurrentStage reruns only the failed stage with the last
// trialed parameter set.
func (s *Session) RestartBucket(hopper int, mode string) error {
	configs.Assert(hopper >= 1 && hopper <= configs.NumberOfHoppers, "invalid hopper id on restart")
	failedStage := ""
	for _, stage := range stageOrder {
		if st := s.matrix.State(hopper, stage); st != nil && st.Status == Failed {
			failedStage = stage
			break
		}
	}
	if failedStage == "" {
		return fmt.Errorf("bucket %d has no failed stage to restart", hopper)
	}
	switch mode {
	case configs.ModeFromBeginning:
		s.matrix.ResetHopper(hopper)
		s.carries[hopper] = carry{}
		return s.coarse.StartBucket(hopper, s.initial.CoarseSpeed)
	case configs.ModeFromCurrentStage:
		last := s.matrix.State(hopper, failedStage)
		s.matrix.ResetStage(hopper, failedStage)
		switch failedStage {
		case configs.StageCoarseTime:
			return s.coarse.StartBucket(hopper, last.Trial.CoarseSpeed)
		case configs.StageFlightMaterial:
			return s.flight.StartBucket(hopper)
		case configs.StageFineTime:
			return s.fine.startWith(hopper, last.Trial)
		case configs.StageAdaptiveLearning:
			return s.adaptive.startWith(hopper, last.Trial)
		}
	}
	return fmt.Errorf("unknown restart mode %q", mode)
}

func (s *Session) cancelled() bool {
	select {
	case <-s.ctx.Done():
		return true
	default:
		return false
	}
}

// resolveInitialParams prefers the learned cache, then the analysis service
// recommendation, then the configured defaults.
func (s *Session) resolveInitialParams(material string, targetWeight float64) ParamSet {
	if s.store != nil {
		if p, ok, err := s.store.Lookup(material, targetWeight); err == nil && ok {
			configs.DPrintf("initial parameters from learned store for %s/%.1f", material, targetWeight)
			return ParamSet{
				CoarseSpeed:   p.CoarseSpeed,
				FineSpeed:     p.FineSpeed,
				CoarseAdvance: p.CoarseAdvance,
				FallValue:     p.FallValue,
				FlowRate:      p.FlowRate,
			}
		}
	}
	if resp, err := s.client.Weight(targetWeight); err == nil && resp.Success {
		res := ParamSet{
			CoarseSpeed: configs.DefaultCoarseSpeed,
			FineSpeed:   configs.DefaultFineSpeed,
			FallValue:   configs.DefaultFallValue,
		}
		if resp.CoarseSpeed != nil {
			res.CoarseSpeed = *resp.CoarseSpeed
		}
		if resp.FineSpeed != nil {
			res.FineSpeed = *resp.FineSpeed
		}
		return res
	}
	return ParamSet{
		CoarseSpeed: configs.DefaultCoarseSpeed,
		FineSpeed:   configs.DefaultFineSpeed,
		FallValue:   configs.DefaultFallValue,
	}
}

// advance hands a hopper to its next stage on a fresh worker.
func (s *Session) advance(hopper int, completedStage string) {
	if s.cancelled() {
		return
	}
	go func() {
		var err error
		switch completedStage {
		case configs.StageCoarseTime:
			err = s.flight.StartBucket(hopper)
		case configs.StageFlightMaterial:
			err = s.fine.StartBucket(hopper)
		case configs.StageFineTime:
			err = s.adaptive.StartBucket(hopper)
		case configs.StageAdaptiveLearning:
			// terminal stage, nothing to chain.
			return
		}
		if err != nil {
			s.events.OnLogMessage(fmt.Sprintf("bucket %d failed to enter the stage after %s: %v",
				hopper, completedStage, err))
		}
	}()
}

// abortAttempt ends a stage worker that was cut short while blocked on an
// edge. A cancelled session leaves the state in progress; starvation is a
// terminal failure (the monitor already stopped the hopper).
func (s *Session) abortAttempt(st *BucketStageState, err error) {
	s.engine.Disarm(st.Hopper)
	switch {
	case errors.Is(err, utils.ErrCancelled):
	case errors.Is(err, utils.ErrStarvation):
		s.failBucket(st, "material starvation: live weight stagnant with the feed running")
	default:
		s.failBucket(st, err.Error())
	}
}

// failBucket records a terminal failure and emits the upward event.
func (s *Session) failBucket(st *BucketStageState, reason string) {
	st.markFailure(reason)
	s.matrix.CompleteStage(st.Hopper, st.Stage, false)
	s.events.OnBucketFailed(st.Hopper, reason, st.Stage)
	s.recordInfo(st, true)
	configs.BPrintf(st.Hopper, "stage %s failed: %s", st.Stage, reason)
}

// succeedBucket records a terminal success and emits the upward events.
func (s *Session) succeedBucket(st *BucketStageState, final ParamSet, message string) {
	st.markSuccess(final)
	s.matrix.CompleteStage(st.Hopper, st.Stage, true)
	s.events.OnBucketCompleted(st.Hopper, true, message)
	s.recordInfo(st, false)
	configs.BPrintf(st.Hopper, "stage %s succeeded", st.Stage)
}

func (s *Session) recordInfo(st *BucketStageState, failed bool) {
	if s.stat == nil {
		return
	}
	info := utils.NewInfo(st.Hopper, st.Stage)
	info.Attempts = st.Attempt
	info.IsFailure = failed
	info.Latency = st.EndTime.Sub(st.StartTime)
	s.stat.Append(info)
}

func (s *Session) journalTrial(rec *storage.TrialRecord) {
	if s.journal != nil {
		s.journal.Append(rec)
	}
}

// persistLearned writes the final adaptive-learning parameters back to the
// learned store.
func (s *Session) persistLearned(final ParamSet) {
	if s.store == nil {
		return
	}
	err := s.store.Save(&storage.LearnedParams{
		Material:      s.material,
		TargetWeight:  s.targetWeight,
		CoarseSpeed:   final.CoarseSpeed,
		FineSpeed:     final.FineSpeed,
		CoarseAdvance: final.CoarseAdvance,
		FallValue:     final.FallValue,
		FlowRate:      final.FlowRate,
	})
	if err != nil {
		s.events.OnLogMessage("failed to persist learned parameters: " + err.Error())
	}
}

// stopAndDischarge is the post-trial sequence shared by every stage.
func (s *Session) stopAndDischarge(hopper int) (bool, string) {
	if ok, msg := s.cmd.StopHopper(hopper); !ok {
		return false, msg
	}
	return s.cmd.Discharge(hopper)
}
