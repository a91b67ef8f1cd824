package calibrate

import (
	"errors"
	"fmt"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/MIMAOC/packaging-machine-maste-sub000/plc"
	"github.com/MIMAOC/packaging-machine-maste-sub000/storage"
)

// FlightMaterialController runs the second stage: three fixed-target fills
// whose overshoot measures the material still airborne when the feed stops.
// Every sample is mandatory; a failed sample fails the stage, there is no
// per-sample retry.
type FlightMaterialController struct {
	s *Session
}

func newFlightMaterialController(s *Session) *FlightMaterialController {
	return &FlightMaterialController{s: s}
}

func (c *FlightMaterialController) StartBucket(hopper int) error {
	s := c.s
	// the trial runs against the small fixed target, not the session target.
	if err := plc.WriteParam(s.bus, hopper, plc.ParamTargetWeight, configs.FlightTrialTarget); err != nil {
		return fmt.Errorf("bucket %d flight setup: %w", hopper, err)
	}
	s.clock.Sleep(configs.ParamApplyDelay)

	st := newBucketStageState(hopper, configs.StageFlightMaterial)
	if prior := s.matrix.State(hopper, configs.StageCoarseTime); prior != nil && prior.Final != nil {
		st.Trial = *prior.Final
	}
	st.transit(NotStarted, InProgress)
	s.matrix.StartStage(hopper, st)
	go c.runBucket(st)
	return nil
}

func (c *FlightMaterialController) runBucket(st *BucketStageState) {
	s := c.s
	w := s.waiters[st.Hopper]
	for i := 1; i <= configs.FlightSampleCount; i++ {
		st.Attempt = i
		s.events.OnProgressUpdate(st.Hopper, i, configs.FlightSampleCount,
			fmt.Sprintf("flight sample %d of %d", i, configs.FlightSampleCount))

		w.drain()
		s.engine.Arm(st.Hopper, configs.StageFlightMaterial, w)
		if ok, msg := s.cmd.StartHopper(st.Hopper); !ok {
			s.engine.Disarm(st.Hopper)
			s.failBucket(st, msg)
			return
		}
		if _, err := w.waitTarget(s.ctx); err != nil {
			s.abortAttempt(st, err)
			return
		}
		s.engine.Disarm(st.Hopper)
		if ok, msg := s.cmd.StopHopper(st.Hopper); !ok {
			s.failBucket(st, msg)
			return
		}

		// let the airborne material land before trusting the scale.
		s.clock.Sleep(configs.SettleBeforeReading)
		weight, err := plc.ReadWeight(s.bus, st.Hopper)
		if err != nil {
			s.failBucket(st, "failed to read the settled weight: "+err.Error())
			return
		}
		if ok, msg := s.cmd.Discharge(st.Hopper); !ok {
			s.failBucket(st, msg)
			return
		}
		st.Samples = append(st.Samples, weight)
		s.journalTrial(&storage.TrialRecord{
			Hopper:     st.Hopper,
			Stage:      st.Stage,
			Attempt:    i,
			RealWeight: weight,
		})
		if s.cancelled() {
			return
		}
	}

	resp, err := s.client.FlightMaterial(configs.FlightTrialTarget, st.Samples)
	if err != nil {
		s.failBucket(st, err.Error())
		return
	}
	if !resp.Success {
		s.failBucket(st, nonCompliantReason(resp.Message, errors.New("flight material analysis rejected the samples")))
		return
	}
	s.latch.Lock()
	s.carries[st.Hopper].flightMaterial = resp.AvgFlightMaterial
	s.latch.Unlock()

	s.succeedBucket(st, st.Trial, resp.Message)
	s.advance(st.Hopper, configs.StageFlightMaterial)
}
