package calibrate

import (
	"errors"
	"fmt"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/MIMAOC/packaging-machine-maste-sub000/plc"
	"github.com/MIMAOC/packaging-machine-maste-sub000/storage"
	"github.com/MIMAOC/packaging-machine-maste-sub000/utils"
)

// CoarseTimeController runs the first stage: trial coarse speeds until the
// coarse fill reaches the target weight in a compliant time. The analysis
// service owns the compliance judgment and the next speed to try.
type CoarseTimeController struct {
	s *Session
}

func newCoarseTimeController(s *Session) *CoarseTimeController {
	return &CoarseTimeController{s: s}
}

// StartAll launches the stage on every hopper with one batch start. The
// hoppers are armed before the start coils go high so the first target edge
// cannot slip between the two.
func (c *CoarseTimeController) StartAll() error {
	s := c.s
	states := make([]*BucketStageState, 0, configs.NumberOfHoppers)
	for h := 1; h <= configs.NumberOfHoppers; h++ {
		if err := c.prepare(h, s.initial.CoarseSpeed); err != nil {
			return err
		}
		states = append(states, c.register(h, s.initial.CoarseSpeed))
	}
	for _, st := range states {
		s.waiters[st.Hopper].drain()
		s.engine.Arm(st.Hopper, configs.StageCoarseTime, s.waiters[st.Hopper])
	}
	if ok, msg := s.cmd.StartAllHoppers(); !ok {
		s.engine.DisarmAll()
		for _, st := range states {
			s.failBucket(st, msg)
		}
		return errors.New(msg)
	}
	for _, st := range states {
		go c.runBucket(st)
	}
	return nil
}

// StartBucket launches the stage on a single hopper, used by the restart
// paths.
func (c *CoarseTimeController) StartBucket(hopper int, coarseSpeed float64) error {
	s := c.s
	if err := c.prepare(hopper, coarseSpeed); err != nil {
		return err
	}
	st := c.register(hopper, coarseSpeed)
	s.waiters[hopper].drain()
	s.engine.Arm(hopper, configs.StageCoarseTime, s.waiters[hopper])
	if ok, msg := s.cmd.StartHopper(hopper); !ok {
		s.engine.Disarm(hopper)
		s.failBucket(st, msg)
		return errors.New(msg)
	}
	go c.runBucket(st)
	return nil
}

// prepare writes the full parameter baseline so a hopper never runs a trial
// with stale values from an earlier session.
func (c *CoarseTimeController) prepare(hopper int, coarseSpeed float64) error {
	s := c.s
	writes := []struct {
		role  plc.ParamRole
		value float64
	}{
		{plc.ParamTargetWeight, s.targetWeight},
		{plc.ParamCoarseSpeed, coarseSpeed},
		{plc.ParamFineSpeed, s.initial.FineSpeed},
		{plc.ParamFallValue, s.initial.FallValue},
	}
	for _, w := range writes {
		if err := plc.WriteParam(s.bus, hopper, w.role, w.value); err != nil {
			return fmt.Errorf("bucket %d parameter setup: %w", hopper, err)
		}
	}
	s.clock.Sleep(configs.ParamApplyDelay)
	return nil
}

func (c *CoarseTimeController) register(hopper int, coarseSpeed float64) *BucketStageState {
	st := newBucketStageState(hopper, configs.StageCoarseTime)
	st.Trial = c.s.initial
	st.Trial.CoarseSpeed = coarseSpeed
	st.transit(NotStarted, InProgress)
	c.s.matrix.StartStage(hopper, st)
	return st
}

func (c *CoarseTimeController) runBucket(st *BucketStageState) {
	s := c.s
	w := s.waiters[st.Hopper]
	speed := st.Trial.CoarseSpeed
	for {
		st.Attempt++
		s.events.OnProgressUpdate(st.Hopper, st.Attempt, configs.MaxCoarseAttempts,
			fmt.Sprintf("coarse trial at speed %.1f", speed))

		elapsed, err := w.waitTarget(s.ctx)
		if err != nil {
			s.abortAttempt(st, err)
			return
		}
		s.engine.Disarm(st.Hopper)
		if ok, msg := s.stopAndDischarge(st.Hopper); !ok {
			s.failBucket(st, msg)
			return
		}
		st.CoarseTimeMs = elapsed.Milliseconds()

		resp, err := s.client.CoarseTime(s.targetWeight, st.CoarseTimeMs, speed)
		if err != nil {
			s.failBucket(st, err.Error())
			return
		}
		if !resp.Success {
			s.failBucket(st, nonCompliantReason(resp.Message, errors.New("coarse time analysis failed")))
			return
		}
		s.journalTrial(&storage.TrialRecord{
			Hopper:      st.Hopper,
			Stage:       st.Stage,
			Attempt:     st.Attempt,
			ElapsedMs:   st.CoarseTimeMs,
			IsCompliant: resp.IsCompliant,
			Message:     resp.Message,
		})

		if resp.IsCompliant {
			final := st.Trial
			final.CoarseSpeed = speed
			s.succeedBucket(st, final, resp.Message)
			s.advance(st.Hopper, configs.StageCoarseTime)
			return
		}
		if resp.NewCoarseSpeed == nil {
			s.failBucket(st, nonCompliantReason(resp.Message, utils.ErrNoAdjustment))
			return
		}
		if st.Attempt >= configs.MaxCoarseAttempts {
			s.failBucket(st, fmt.Sprintf("%s: %d coarse trials", utils.ErrBudgetExhausted, configs.MaxCoarseAttempts))
			return
		}

		// silent retry: apply the recommended speed and rerun.
		speed = *resp.NewCoarseSpeed
		st.Trial.CoarseSpeed = speed
		if err := plc.WriteParam(s.bus, st.Hopper, plc.ParamCoarseSpeed, speed); err != nil {
			s.failBucket(st, "failed to apply coarse speed: "+err.Error())
			return
		}
		s.clock.Sleep(configs.ParamApplyDelay)
		w.drain()
		s.engine.Arm(st.Hopper, configs.StageCoarseTime, w)
		if ok, msg := s.cmd.StartHopper(st.Hopper); !ok {
			s.engine.Disarm(st.Hopper)
			s.failBucket(st, msg)
			return
		}
	}
}

// nonCompliantReason folds the service message and the local cause into one
// operator-facing line.
func nonCompliantReason(message string, cause error) string {
	if message == "" {
		return cause.Error()
	}
	return message + ": " + cause.Error()
}
