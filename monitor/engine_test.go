package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/MIMAOC/packaging-machine-maste-sub000/plc"
	"github.com/magiconair/properties/assert"
)

// statusBus serves the status coils and live weights the engine polls, and
// records coil writes so tests can see the stop sequences it issues.
type statusBus struct {
	latch     sync.Mutex
	target    [configs.NumberOfHoppers]bool
	coarse    [configs.NumberOfHoppers]bool
	start     [configs.NumberOfHoppers]bool
	weights   [configs.NumberOfHoppers + 1]float64
	coilReads map[uint16]int
	writes    []uint16
}

func newStatusBus() *statusBus {
	return &statusBus{coilReads: make(map[uint16]int)}
}

func (b *statusBus) set(f func(*statusBus)) {
	b.latch.Lock()
	defer b.latch.Unlock()
	f(b)
}

func (b *statusBus) ReadCoils(addr uint16, quantity uint16) ([]bool, error) {
	b.latch.Lock()
	defer b.latch.Unlock()
	b.coilReads[addr]++
	res := make([]bool, quantity)
	for i := range res {
		switch addr {
		case plc.TargetReachedCoilBase:
			res[i] = b.target[i]
		case plc.CoarseActiveCoilBase:
			res[i] = b.coarse[i]
		case plc.StartCoilBase:
			res[i] = b.start[i]
		}
	}
	return res, nil
}

func (b *statusBus) ReadRegisters(addr uint16, quantity uint16) ([]uint16, error) {
	b.latch.Lock()
	defer b.latch.Unlock()
	res := make([]uint16, quantity)
	for h := 1; h <= configs.NumberOfHoppers; h++ {
		if plc.WeightRegister(h) == addr {
			res[0] = configs.ToRaw(b.weights[h])
		}
	}
	return res, nil
}

func (b *statusBus) WriteRegister(addr uint16, value uint16) error     { return nil }
func (b *statusBus) WriteRegisters(addr uint16, values []uint16) error { return nil }

func (b *statusBus) WriteCoil(addr uint16, on bool) error {
	b.latch.Lock()
	defer b.latch.Unlock()
	b.writes = append(b.writes, addr)
	return nil
}

func (b *statusBus) WriteCoils(addr uint16, values []bool) error {
	b.latch.Lock()
	defer b.latch.Unlock()
	b.writes = append(b.writes, addr)
	return nil
}

// recHandler collects delivered edges.
type recHandler struct {
	latch       sync.Mutex
	targets     []int
	coarseFalls []int
	starved     []int
}

func (r *recHandler) OnTargetReached(hopper int, elapsed time.Duration) {
	r.latch.Lock()
	defer r.latch.Unlock()
	r.targets = append(r.targets, hopper)
}

func (r *recHandler) OnCoarseStatusChanged(hopper int, active bool) {
	r.latch.Lock()
	defer r.latch.Unlock()
	if !active {
		r.coarseFalls = append(r.coarseFalls, hopper)
	}
}

func (r *recHandler) OnStarvationDetected(hopper int, stage string, isProduction bool) {
	r.latch.Lock()
	defer r.latch.Unlock()
	r.starved = append(r.starved, hopper)
}

func (r *recHandler) targetCount() int {
	r.latch.Lock()
	defer r.latch.Unlock()
	return len(r.targets)
}

func (r *recHandler) starvedList() []int {
	r.latch.Lock()
	defer r.latch.Unlock()
	return append([]int(nil), r.starved...)
}

type noSleepClock struct{}

func (noSleepClock) Now() time.Time        { return time.Now() }
func (noSleepClock) Sleep(d time.Duration) {}

func newTestEngine(bus *statusBus) *Engine {
	return NewEngine(bus, plc.NewCommander(bus, noSleepClock{}))
}

func TestTargetEdgeFiresOncePerRise(t *testing.T) {
	bus := newStatusBus()
	e := newTestEngine(bus)
	h := &recHandler{}
	e.Arm(2, configs.StageCoarseTime, h)

	e.tick()
	assert.Equal(t, 0, h.targetCount())

	bus.set(func(b *statusBus) { b.target[1] = true })
	e.tick()
	e.tick()
	assert.Equal(t, 1, h.targetCount())
	assert.Equal(t, 2, h.targets[0])

	// a new fill cycle: coil drops, then rises again.
	bus.set(func(b *statusBus) { b.target[1] = false })
	e.tick()
	bus.set(func(b *statusBus) { b.target[1] = true })
	e.tick()
	assert.Equal(t, 2, h.targetCount())
}

func TestCoarseFallBootstrap(t *testing.T) {
	bus := newStatusBus()
	e := newTestEngine(bus)
	h := &recHandler{}
	// the hopper is mid-coarse when armed: the first observation must not be
	// mistaken for an edge.
	bus.set(func(b *statusBus) { b.coarse[0] = true })
	e.Arm(1, configs.StageAdaptiveLearning, h)

	e.tick()
	assert.Equal(t, 0, len(h.coarseFalls))

	bus.set(func(b *statusBus) { b.coarse[0] = false })
	e.tick()
	assert.Equal(t, []int{1}, h.coarseFalls)

	e.tick()
	assert.Equal(t, 1, len(h.coarseFalls))
}

func TestCoarseCoilsReadOnlyForAdaptiveStage(t *testing.T) {
	bus := newStatusBus()
	e := newTestEngine(bus)
	e.Arm(1, configs.StageCoarseTime, &recHandler{})
	e.tick()
	assert.Equal(t, 0, bus.coilReads[plc.CoarseActiveCoilBase])

	e.Arm(2, configs.StageAdaptiveLearning, &recHandler{})
	e.tick()
	assert.Equal(t, 1, bus.coilReads[plc.CoarseActiveCoilBase])
}

func TestArmSetEmptyIsNoOp(t *testing.T) {
	bus := newStatusBus()
	e := newTestEngine(bus)
	e.ArmSet(nil, configs.StageCoarseTime, &recHandler{})
	assert.Equal(t, 0, e.armedCount())
}

func TestDisarmStopsDelivery(t *testing.T) {
	bus := newStatusBus()
	e := newTestEngine(bus)
	h := &recHandler{}
	e.Arm(3, configs.StageFineTime, h)
	e.Disarm(3)
	bus.set(func(b *statusBus) { b.target[2] = true })
	e.tick()
	assert.Equal(t, 0, h.targetCount())
}

func TestStarvationIsolatesTheStarvedHopper(t *testing.T) {
	bus := newStatusBus()
	e := newTestEngine(bus)
	e.SetStarvationCheck(true)
	h := &recHandler{}
	e.Arm(1, configs.StageCoarseTime, h)
	e.Arm(2, configs.StageCoarseTime, h)
	bus.set(func(b *statusBus) {
		b.start[0] = true
		b.start[1] = true
		b.weights[1] = 10.0
		b.weights[2] = 50.0
	})

	// backfill the windows: hopper 1 flat, hopper 2 still gaining.
	now := time.Now()
	for i := 0; i <= 160; i++ {
		at := now.Add(-configs.StarvationWindow - time.Second + time.Duration(i)*configs.MonitorTickInterval)
		e.armed[1].window.push(at, 10.0)
		e.armed[2].window.push(at, 50.0-5.0+float64(i)*0.05)
	}

	e.tick()
	// the stop sequence for hopper 1 runs synchronously with delivery.
	bus.latch.Lock()
	writes := append([]uint16(nil), bus.writes...)
	bus.latch.Unlock()
	assert.Equal(t, []uint16{plc.Coil(1, plc.CoilStart), plc.Coil(1, plc.CoilStop)}, writes)

	// the sample window is dropped once it has fired.
	assert.Equal(t, 0, len(e.armed[1].window.samples))

	// the pop-up notification arrives after the per-hopper debounce.
	time.Sleep(configs.StarvationDebounce + 300*time.Millisecond)
	assert.Equal(t, []int{1}, h.starvedList())

	// starvation fires once per arm cycle.
	e.tick()
	time.Sleep(configs.StarvationDebounce + 300*time.Millisecond)
	assert.Equal(t, []int{1}, h.starvedList())
}
