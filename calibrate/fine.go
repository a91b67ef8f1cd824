package calibrate

import (
	"errors"
	"fmt"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/MIMAOC/packaging-machine-maste-sub000/plc"
	"github.com/MIMAOC/packaging-machine-maste-sub000/storage"
	"github.com/MIMAOC/packaging-machine-maste-sub000/utils"
)

// FineTimeController runs the third stage: isolate the fine fill behind a 6g
// target with the coarse advance set equal to it, and trial fine speeds until
// the fine-only time is compliant.
type FineTimeController struct {
	s *Session
}

func newFineTimeController(s *Session) *FineTimeController {
	return &FineTimeController{s: s}
}

func (c *FineTimeController) StartBucket(hopper int) error {
	var trial ParamSet
	if prior := c.s.matrix.State(hopper, configs.StageFlightMaterial); prior != nil && prior.Final != nil {
		trial = *prior.Final
	}
	return c.startWith(hopper, trial)
}

// startWith enters the stage with an explicit trial seed, used by the restart
// path to resume from the last trialed parameters.
func (c *FineTimeController) startWith(hopper int, trial ParamSet) error {
	s := c.s
	st := newBucketStageState(hopper, configs.StageFineTime)
	st.Trial = trial
	if err := c.prepare(hopper, st.Trial.FineSpeed); err != nil {
		return err
	}
	st.transit(NotStarted, InProgress)
	s.matrix.StartStage(hopper, st)
	go c.runBucket(st)
	return nil
}

// prepare pins the target and coarse advance to the trial value so the coarse
// phase never engages during this stage.
func (c *FineTimeController) prepare(hopper int, fineSpeed float64) error {
	s := c.s
	writes := []struct {
		role  plc.ParamRole
		value float64
	}{
		{plc.ParamTargetWeight, configs.FineTrialTarget},
		{plc.ParamCoarseAdvance, configs.FineTrialAdvance},
		{plc.ParamFineSpeed, fineSpeed},
	}
	for _, w := range writes {
		if err := plc.WriteParam(s.bus, hopper, w.role, w.value); err != nil {
			return fmt.Errorf("bucket %d fine-time setup: %w", hopper, err)
		}
	}
	s.clock.Sleep(configs.ParamApplyDelay)
	return nil
}

func (c *FineTimeController) runBucket(st *BucketStageState) {
	s := c.s
	w := s.waiters[st.Hopper]
	s.latch.Lock()
	flight := s.carries[st.Hopper].flightMaterial
	s.latch.Unlock()
	speed := st.Trial.FineSpeed
	for {
		st.Attempt++
		s.events.OnProgressUpdate(st.Hopper, st.Attempt, configs.MaxFineAttempts,
			fmt.Sprintf("fine trial at speed %.1f", speed))

		w.drain()
		s.engine.Arm(st.Hopper, configs.StageFineTime, w)
		if ok, msg := s.cmd.StartHopper(st.Hopper); !ok {
			s.engine.Disarm(st.Hopper)
			s.failBucket(st, msg)
			return
		}
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
		fineTimeMs := elapsed.Milliseconds()

		resp, err := s.client.FineTime(fineTimeMs, speed, s.targetWeight, flight)
		if err != nil {
			s.failBucket(st, err.Error())
			return
		}
		if !resp.Success {
			s.failBucket(st, nonCompliantReason(resp.Message, errors.New("fine time analysis failed")))
			return
		}
		s.journalTrial(&storage.TrialRecord{
			Hopper:      st.Hopper,
			Stage:       st.Stage,
			Attempt:     st.Attempt,
			ElapsedMs:   fineTimeMs,
			IsCompliant: resp.IsCompliant,
			Message:     resp.Message,
		})

		if resp.IsCompliant {
			final := st.Trial
			final.FineSpeed = speed
			if resp.CoarseAdvance != nil {
				final.CoarseAdvance = *resp.CoarseAdvance
				// the register still holds the trial advance; move the hopper
				// to the recommended one right away.
				if err := plc.WriteParam(s.bus, st.Hopper, plc.ParamCoarseAdvance, *resp.CoarseAdvance); err != nil {
					s.failBucket(st, "failed to apply coarse advance: "+err.Error())
					return
				}
			}
			final.FlowRate = resp.FineFlowRate
			s.latch.Lock()
			s.carries[st.Hopper].flowRate = resp.FineFlowRate
			s.latch.Unlock()
			s.succeedBucket(st, final, resp.Message)
			s.advance(st.Hopper, configs.StageFineTime)
			return
		}
		if resp.NewFineSpeed == nil {
			s.failBucket(st, nonCompliantReason(resp.Message, utils.ErrNoAdjustment))
			return
		}
		if st.Attempt >= configs.MaxFineAttempts {
			s.failBucket(st, fmt.Sprintf("%s: %d fine trials", utils.ErrBudgetExhausted, configs.MaxFineAttempts))
			return
		}

		speed = *resp.NewFineSpeed
		st.Trial.FineSpeed = speed
		if err := plc.WriteParam(s.bus, st.Hopper, plc.ParamFineSpeed, speed); err != nil {
			s.failBucket(st, "failed to apply fine speed: "+err.Error())
			return
		}
		s.clock.Sleep(configs.ParamApplyDelay)
	}
}
