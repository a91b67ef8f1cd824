package plc

import (
	"errors"
	"testing"
	"time"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/magiconair/properties/assert"
)

// writeOp records one coil write with the fake-clock time it happened at.
type writeOp struct {
	addr   uint16
	values []bool
	at     time.Duration
}

// fakeBus records every write; reads return zeroes.
type fakeBus struct {
	clock  *fakeClock
	writes []writeOp
	fail   map[uint16]error
}

func newFakeBus(clock *fakeClock) *fakeBus {
	return &fakeBus{clock: clock, fail: make(map[uint16]error)}
}

func (b *fakeBus) record(addr uint16, values []bool) error {
	if err := b.fail[addr]; err != nil {
		return err
	}
	b.writes = append(b.writes, writeOp{addr: addr, values: values, at: b.clock.elapsed})
	return nil
}

func (b *fakeBus) ReadRegisters(addr uint16, quantity uint16) ([]uint16, error) {
	return make([]uint16, quantity), nil
}
func (b *fakeBus) WriteRegister(addr uint16, value uint16) error     { return nil }
func (b *fakeBus) WriteRegisters(addr uint16, values []uint16) error { return nil }
func (b *fakeBus) ReadCoils(addr uint16, quantity uint16) ([]bool, error) {
	return make([]bool, quantity), nil
}
func (b *fakeBus) WriteCoil(addr uint16, on bool) error { return b.record(addr, []bool{on}) }
func (b *fakeBus) WriteCoils(addr uint16, values []bool) error {
	return b.record(addr, append([]bool(nil), values...))
}

// fakeClock advances only through Sleep, so delays are observable without
// real waiting.
type fakeClock struct {
	elapsed time.Duration
}

func (c *fakeClock) Now() time.Time        { return time.Time{}.Add(c.elapsed) }
func (c *fakeClock) Sleep(d time.Duration) { c.elapsed += d }

func setup() (*fakeBus, *Commander) {
	clock := &fakeClock{}
	bus := newFakeBus(clock)
	return bus, NewCommander(bus, clock)
}

func TestStartHopperSequence(t *testing.T) {
	bus, cmd := setup()
	ok, _ := cmd.StartHopper(2)
	assert.Equal(t, true, ok)
	assert.Equal(t, 2, len(bus.writes))

	// stop released first, then start, never the other way around.
	assert.Equal(t, Coil(2, CoilStop), bus.writes[0].addr)
	assert.Equal(t, []bool{false}, bus.writes[0].values)
	assert.Equal(t, Coil(2, CoilStart), bus.writes[1].addr)
	assert.Equal(t, []bool{true}, bus.writes[1].values)

	gap := bus.writes[1].at - bus.writes[0].at
	assert.Equal(t, gap >= configs.CommandStepDelay, true)
}

func TestStopHopperSequence(t *testing.T) {
	bus, cmd := setup()
	ok, _ := cmd.StopHopper(5)
	assert.Equal(t, true, ok)
	assert.Equal(t, Coil(5, CoilStart), bus.writes[0].addr)
	assert.Equal(t, []bool{false}, bus.writes[0].values)
	assert.Equal(t, Coil(5, CoilStop), bus.writes[1].addr)
	assert.Equal(t, []bool{true}, bus.writes[1].values)
}

func TestStartAllHoppersBatch(t *testing.T) {
	bus, cmd := setup()
	ok, _ := cmd.StartAllHoppers()
	assert.Equal(t, true, ok)
	assert.Equal(t, 2, len(bus.writes))
	assert.Equal(t, StopCoilBase, bus.writes[0].addr)
	assert.Equal(t, configs.NumberOfHoppers, len(bus.writes[0].values))
	assert.Equal(t, StartCoilBase, bus.writes[1].addr)
	gap := bus.writes[1].at - bus.writes[0].at
	assert.Equal(t, gap >= configs.CommandStepDelay, true)
}

func TestDischargeHold(t *testing.T) {
	bus, cmd := setup()
	ok, _ := cmd.Discharge(1)
	assert.Equal(t, true, ok)
	assert.Equal(t, []bool{true}, bus.writes[0].values)
	assert.Equal(t, []bool{false}, bus.writes[1].values)
	hold := bus.writes[1].at - bus.writes[0].at
	assert.Equal(t, hold >= configs.DischargeHoldTime, true)
}

func TestCalibrationPulseHold(t *testing.T) {
	bus, cmd := setup()
	ok, _ := cmd.ZeroCalibrate(4)
	assert.Equal(t, true, ok)
	assert.Equal(t, Coil(4, CoilZeroCalibration), bus.writes[0].addr)
	hold := bus.writes[1].at - bus.writes[0].at
	assert.Equal(t, hold >= configs.CalibrationHoldTime, true)
}

func TestSequenceAbortsOnFailedWrite(t *testing.T) {
	bus, cmd := setup()
	bus.fail[Coil(3, CoilStop)] = errors.New("device gone")
	ok, msg := cmd.StartHopper(3)
	assert.Equal(t, false, ok)
	assert.Equal(t, msg != "", true)
	// the start coil must not have been raised after the failed step.
	assert.Equal(t, 0, len(bus.writes))
}

func TestGlobalStopSequence(t *testing.T) {
	bus, cmd := setup()
	ok, _ := cmd.GlobalStop()
	assert.Equal(t, true, ok)
	assert.Equal(t, GlobalStartCoil, bus.writes[0].addr)
	assert.Equal(t, []bool{false}, bus.writes[0].values)
	assert.Equal(t, GlobalStopCoil, bus.writes[1].addr)
	assert.Equal(t, []bool{true}, bus.writes[1].values)
}
