package calibrate

import (
	"errors"
	"fmt"

	"github.com/MIMAOC/packaging-machine-maste-sub000/analysis"
	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/MIMAOC/packaging-machine-maste-sub000/plc"
	"github.com/MIMAOC/packaging-machine-maste-sub000/storage"
	"github.com/MIMAOC/packaging-machine-maste-sub000/utils"
)

// AdaptiveLearningController runs the terminal stage: full production cycles
// against the real target, with the service tuning coarse advance and fall
// value until enough consecutive cycles land within tolerance. The counter of
// consecutive compliant cycles survives round boundaries.
type AdaptiveLearningController struct {
	s *Session
}

func newAdaptiveLearningController(s *Session) *AdaptiveLearningController {
	return &AdaptiveLearningController{s: s}
}

func (c *AdaptiveLearningController) StartBucket(hopper int) error {
	var trial ParamSet
	if prior := c.s.matrix.State(hopper, configs.StageFineTime); prior != nil && prior.Final != nil {
		trial = *prior.Final
	}
	return c.startWith(hopper, trial)
}

// startWith enters the stage with an explicit trial seed, used by the restart
// path to resume from the last trialed parameters.
func (c *AdaptiveLearningController) startWith(hopper int, trial ParamSet) error {
	s := c.s
	st := newBucketStageState(hopper, configs.StageAdaptiveLearning)
	st.Trial = trial
	if err := c.prepare(hopper, st.Trial); err != nil {
		return err
	}
	st.transit(NotStarted, InProgress)
	s.matrix.StartStage(hopper, st)
	go c.runBucket(st)
	return nil
}

// prepare restores the session target and the tuned parameter set after the
// fixed-target stages overwrote them.
func (c *AdaptiveLearningController) prepare(hopper int, trial ParamSet) error {
	s := c.s
	fall := trial.FallValue
	if fall == 0 {
		fall = configs.DefaultFallValue
	}
	writes := []struct {
		role  plc.ParamRole
		value float64
	}{
		{plc.ParamTargetWeight, s.targetWeight},
		{plc.ParamCoarseAdvance, trial.CoarseAdvance},
		{plc.ParamFallValue, fall},
		{plc.ParamCoarseSpeed, trial.CoarseSpeed},
		{plc.ParamFineSpeed, trial.FineSpeed},
	}
	for _, w := range writes {
		if err := plc.WriteParam(s.bus, hopper, w.role, w.value); err != nil {
			return fmt.Errorf("bucket %d adaptive setup: %w", hopper, err)
		}
	}
	s.clock.Sleep(configs.ParamApplyDelay)
	return nil
}

func (c *AdaptiveLearningController) runBucket(st *BucketStageState) {
	s := c.s
	w := s.waiters[st.Hopper]
	s.latch.Lock()
	flowRate := s.carries[st.Hopper].flowRate
	s.latch.Unlock()

	for round := 1; round <= configs.MaxAdaptiveRounds; round++ {
		st.Round = round
		for attempt := 1; attempt <= configs.MaxAdaptiveAttempts; attempt++ {
			st.Attempt++
			s.events.OnProgressUpdate(st.Hopper, attempt, configs.MaxAdaptiveAttempts,
				fmt.Sprintf("adaptive round %d cycle %d (%d/%d compliant)",
					round, attempt, st.Consecutive, configs.RequiredConsecutive))

			w.drain()
			s.engine.Arm(st.Hopper, configs.StageAdaptiveLearning, w)
			startedAt := s.clock.Now()
			if ok, msg := s.cmd.StartHopper(st.Hopper); !ok {
				s.engine.Disarm(st.Hopper)
				s.failBucket(st, msg)
				return
			}
			if err := w.waitCoarseFall(s.ctx); err != nil {
				s.abortAttempt(st, err)
				return
			}
			st.CoarseTimeMs = s.clock.Now().Sub(startedAt).Milliseconds()
			elapsed, err := w.waitTarget(s.ctx)
			if err != nil {
				s.abortAttempt(st, err)
				return
			}
			s.engine.Disarm(st.Hopper)
			st.TotalCycleMs = elapsed.Milliseconds()

			if ok, msg := s.cmd.StopHopper(st.Hopper); !ok {
				s.failBucket(st, msg)
				return
			}
			s.clock.Sleep(configs.AdaptiveSettleTime)
			real, err := plc.ReadWeight(s.bus, st.Hopper)
			if err != nil {
				s.failBucket(st, "failed to read the settled weight: "+err.Error())
				return
			}
			if ok, msg := s.cmd.Discharge(st.Hopper); !ok {
				s.failBucket(st, msg)
				return
			}
			st.ErrorValue = real - s.targetWeight

			// the PLC may clamp or round applied values, so the trial reports
			// what the device actually holds, not what was last written.
			advance, err := plc.ReadParam(s.bus, st.Hopper, plc.ParamCoarseAdvance)
			if err != nil {
				s.failBucket(st, "failed to read back coarse advance: "+err.Error())
				return
			}
			fall, err := plc.ReadParam(s.bus, st.Hopper, plc.ParamFallValue)
			if err != nil {
				s.failBucket(st, "failed to read back fall value: "+err.Error())
				return
			}
			st.Trial.CoarseAdvance = advance
			st.Trial.FallValue = fall

			resp, err := s.client.AdaptiveLearning(s.targetWeight, st.TotalCycleMs, st.CoarseTimeMs,
				st.ErrorValue, advance, fall, flowRate)
			if err != nil {
				s.failBucket(st, err.Error())
				return
			}
			if !resp.Success {
				s.failBucket(st, nonCompliantReason(resp.Message, errors.New("adaptive learning analysis failed")))
				return
			}
			s.journalTrial(&storage.TrialRecord{
				Hopper:      st.Hopper,
				Stage:       st.Stage,
				Attempt:     st.Attempt,
				ElapsedMs:   st.TotalCycleMs,
				RealWeight:  real,
				IsCompliant: resp.IsCompliant,
				Message:     resp.Message,
			})

			if resp.IsCompliant {
				st.Consecutive++
				if st.Consecutive >= configs.RequiredConsecutive {
					final := st.Trial
					final.FlowRate = flowRate
					s.persistLearned(final)
					s.succeedBucket(st, final, resp.Message)
					return
				}
			} else {
				st.Consecutive = 0
				if !hasAdjustment(resp.NewParams) {
					s.failBucket(st, nonCompliantReason(resp.Message, utils.ErrNoAdjustment))
					return
				}
				// only a non-compliant verdict may move the parameters; a
				// compliant one carrying advisory values is left alone.
				if err := c.applyAdjustments(st, resp.NewParams); err != nil {
					s.failBucket(st, err.Error())
					return
				}
			}
			if s.cancelled() {
				return
			}
			s.clock.Sleep(configs.InterAttemptPause)
		}
		configs.BPrintf(st.Hopper, "adaptive round %d exhausted, %d compliant in a row", round, st.Consecutive)
	}
	s.failBucket(st, fmt.Sprintf("%s: no %d consecutive compliant cycles within %d rounds",
		utils.ErrBudgetExhausted, configs.RequiredConsecutive, configs.MaxAdaptiveRounds))
}

func hasAdjustment(params *analysis.AdaptiveParams) bool {
	return params != nil && (params.CoarseAdvance != nil || params.FallValue != nil)
}

func (c *AdaptiveLearningController) applyAdjustments(st *BucketStageState, params *analysis.AdaptiveParams) error {
	if params == nil {
		return nil
	}
	s := c.s
	if params.CoarseAdvance != nil {
		if err := plc.WriteParam(s.bus, st.Hopper, plc.ParamCoarseAdvance, *params.CoarseAdvance); err != nil {
			return fmt.Errorf("failed to apply coarse advance: %w", err)
		}
		st.Trial.CoarseAdvance = *params.CoarseAdvance
	}
	if params.FallValue != nil {
		if err := plc.WriteParam(s.bus, st.Hopper, plc.ParamFallValue, *params.FallValue); err != nil {
			return fmt.Errorf("failed to apply fall value: %w", err)
		}
		st.Trial.FallValue = *params.FallValue
	}
	if params.CoarseAdvance != nil || params.FallValue != nil {
		s.clock.Sleep(configs.ParamApplyDelay)
	}
	return nil
}
