// Package monitor polls the PLC status surface at a fixed cadence and turns
// raw coil reads into edge events for the stage controllers.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/MIMAOC/packaging-machine-maste-sub000/plc"
)

// Handler receives the edges observed for one armed hopper. Implementations
// must not block: controllers bridge these calls into buffered channels.
type Handler interface {
	OnTargetReached(hopper int, elapsed time.Duration)
	OnCoarseStatusChanged(hopper int, active bool)
	OnStarvationDetected(hopper int, stage string, isProduction bool)
}

// ProductionStage is the arm tag used by the production screen; every other
// tag is a calibration stage.
const ProductionStage = "production"

type armState struct {
	stage   string
	handler Handler
	armedAt time.Time
	// last observed coil values; coarse bootstraps on the first tick so that
	// a hopper already past its coarse phase is not mis-reported as an edge.
	lastTarget   bool
	lastCoarse   bool
	coarseInit   bool
	window       *weightWindow
	starved      bool
	stopOnStarve bool
}

// Engine is the single polling worker. It owns the Modbus read cadence; no
// stage worker ever reads status coils directly.
type Engine struct {
	bus   plc.Bus
	cmd   *plc.Commander
	latch *sync.Mutex
	armed map[int]*armState

	starvationCheck bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(bus plc.Bus, cmd *plc.Commander) *Engine {
	return &Engine{
		bus:   bus,
		cmd:   cmd,
		latch: &sync.Mutex{},
		armed: make(map[int]*armState),
	}
}

// Start launches the polling loop. Safe to call once per engine.
func (e *Engine) Start() {
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.done = make(chan struct{})
	go e.loop()
}

// Stop disarms every hopper and waits for the polling loop to exit.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.DisarmAll()
	e.cancel()
	<-e.done
}

// Arm starts edge delivery for one hopper under a stage tag. Re-arming an
// already armed hopper resets its arm time and edge state.
func (e *Engine) Arm(hopper int, stage string, handler Handler) {
	configs.Assert(hopper >= 1 && hopper <= configs.NumberOfHoppers, "invalid hopper id on arm")
	configs.Assert(handler != nil, "nil monitor handler")
	e.latch.Lock()
	defer e.latch.Unlock()
	st := &armState{
		stage:        stage,
		handler:      handler,
		armedAt:      time.Now(),
		stopOnStarve: stage != ProductionStage,
	}
	if e.starvationCheck {
		st.window = newWeightWindow()
	}
	e.armed[hopper] = st
	configs.BPrintf(hopper, "armed for stage %s", stage)
}

// ArmSet arms several hoppers under one tag. An empty set is a no-op.
func (e *Engine) ArmSet(hoppers []int, stage string, handler Handler) {
	for _, h := range hoppers {
		e.Arm(h, stage, handler)
	}
}

// Disarm stops edge delivery for one hopper.
func (e *Engine) Disarm(hopper int) {
	e.latch.Lock()
	defer e.latch.Unlock()
	delete(e.armed, hopper)
}

func (e *Engine) DisarmAll() {
	e.latch.Lock()
	defer e.latch.Unlock()
	e.armed = make(map[int]*armState)
}

// SetStarvationCheck toggles the live-weight window reads. Existing arm
// states get a window lazily on the next arm.
func (e *Engine) SetStarvationCheck(enabled bool) {
	e.latch.Lock()
	defer e.latch.Unlock()
	e.starvationCheck = enabled
	for _, st := range e.armed {
		if enabled && st.window == nil {
			st.window = newWeightWindow()
		}
	}
}

func (e *Engine) armedCount() int {
	e.latch.Lock()
	defer e.latch.Unlock()
	return len(e.armed)
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		interval := configs.MonitorTickInterval
		if e.armedCount() == 0 {
			interval = configs.MonitorIdleInterval
		} else {
			e.tick()
		}
		select {
		case <-e.ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// tick performs one polling round: batch status reads first, then per-hopper
// edge detection. A failed read logs and leaves the edge state untouched so
// the next tick retries.
func (e *Engine) tick() {
	targets, err := e.bus.ReadCoils(plc.TargetReachedCoilBase, configs.NumberOfHoppers)
	if err != nil {
		configs.Warn(false, "monitor: target coil read failed: "+err.Error())
		return
	}

	e.latch.Lock()
	needCoarse := false
	needWeights := false
	for _, st := range e.armed {
		if st.stage == configs.StageAdaptiveLearning {
			needCoarse = true
		}
		if st.window != nil {
			needWeights = true
		}
	}
	e.latch.Unlock()

	var coarse []bool
	if needCoarse {
		coarse, err = e.bus.ReadCoils(plc.CoarseActiveCoilBase, configs.NumberOfHoppers)
		if err != nil {
			configs.Warn(false, "monitor: coarse coil read failed: "+err.Error())
			coarse = nil
		}
	}

	var starts []bool
	weights := make(map[int]float64)
	if needWeights {
		starts, err = e.bus.ReadCoils(plc.StartCoilBase, configs.NumberOfHoppers)
		if err != nil {
			configs.Warn(false, "monitor: start coil read failed: "+err.Error())
			starts = nil
		}
		e.latch.Lock()
		monitored := make([]int, 0, len(e.armed))
		for h, st := range e.armed {
			if st.window != nil {
				monitored = append(monitored, h)
			}
		}
		e.latch.Unlock()
		for _, h := range monitored {
			// the weight registers are non-contiguous, one read each.
			w, err := plc.ReadWeight(e.bus, h)
			if err != nil {
				configs.Warn(false, "monitor: weight read failed: "+err.Error())
				continue
			}
			weights[h] = w
		}
	}

	now := time.Now()
	type event struct {
		fn func()
	}
	var events []event

	e.latch.Lock()
	for h, st := range e.armed {
		hopper, state := h, st
		reached := targets[hopper-1]
		if reached && !state.lastTarget {
			elapsed := now.Sub(state.armedAt)
			handler := state.handler
			events = append(events, event{fn: func() {
				handler.OnTargetReached(hopper, elapsed)
			}})
		}
		state.lastTarget = reached

		if coarse != nil && state.stage == configs.StageAdaptiveLearning {
			active := coarse[hopper-1]
			if !state.coarseInit {
				state.coarseInit = true
			} else if state.lastCoarse && !active {
				handler := state.handler
				events = append(events, event{fn: func() {
					handler.OnCoarseStatusChanged(hopper, false)
				}})
			}
			state.lastCoarse = active
		}

		if state.window != nil {
			if w, ok := weights[hopper]; ok {
				state.window.push(now, w)
			}
			running := starts != nil && starts[hopper-1]
			if !state.starved && state.window.full() && running && !reached &&
				state.window.delta() < configs.StarvationThreshold {
				state.starved = true
				// the buffer has served; starved keeps it from re-firing.
				state.window.reset()
				stage := state.stage
				handler := state.handler
				isProduction := stage == ProductionStage
				stopHopper := state.stopOnStarve
				events = append(events, event{fn: func() {
					if stopHopper {
						e.cmd.StopHopper(hopper)
					} else {
						e.cmd.StopPackagingMachine()
					}
					// staggered per hopper to avoid concurrent pop-up storms.
					time.AfterFunc(time.Duration(hopper)*configs.StarvationDebounce, func() {
						handler.OnStarvationDetected(hopper, stage, isProduction)
					})
				}})
			}
		}
	}
	e.latch.Unlock()

	// deliver outside the latch, in observation order.
	for _, ev := range events {
		ev.fn()
	}
}
