package plc

import (
	"fmt"
	"time"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	lock "github.com/viney-shih/go-lock"
)

// Clock abstracts time for the command sequences so tests can verify step
// ordering and minimum delays without real waits.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock is the wall clock used outside tests.
var SystemClock Clock = realClock{}

// Step is one coil write followed by a mandatory settle delay. A step with
// more than one value is a batch write starting at Addr.
type Step struct {
	Addr   uint16
	Values []bool
	Delay  time.Duration
}

func coil(addr uint16, on bool, delay time.Duration) Step {
	return Step{Addr: addr, Values: []bool{on}, Delay: delay}
}

func batch(addr uint16, on bool, n int, delay time.Duration) Step {
	values := make([]bool, n)
	for i := range values {
		values[i] = on
	}
	return Step{Addr: addr, Values: values, Delay: delay}
}

// StopCoilBase is the first address of the contiguous stop-coil block.
const StopCoilBase uint16 = 130

// Commander executes the timed coil sequences the PLC requires. The start and
// stop coils of a hopper are mutually exclusive on the device, so a sequence
// must fully drive one 0-then-1 pattern before another caller may touch the
// same hopper; the per-hopper latches enforce that.
type Commander struct {
	bus         Bus
	clock       Clock
	latches     [configs.NumberOfHoppers + 1]lock.Mutex
	globalLatch lock.Mutex
}

func NewCommander(bus Bus, clock Clock) *Commander {
	if clock == nil {
		clock = SystemClock
	}
	res := &Commander{bus: bus, clock: clock, globalLatch: lock.NewCASMutex()}
	for i := 1; i <= configs.NumberOfHoppers; i++ {
		res.latches[i] = lock.NewCASMutex()
	}
	return res
}

// run executes the steps in order. A failed write aborts the remainder.
func (c *Commander) run(name string, steps []Step) (bool, string) {
	for i, s := range steps {
		var err error
		if len(s.Values) == 1 {
			err = c.bus.WriteCoil(s.Addr, s.Values[0])
		} else {
			err = c.bus.WriteCoils(s.Addr, s.Values)
		}
		if err != nil {
			msg := fmt.Sprintf("%s failed at step %d (coil %d): %v", name, i+1, s.Addr, err)
			configs.Warn(false, msg)
			return false, msg
		}
		if s.Delay > 0 {
			c.clock.Sleep(s.Delay)
		}
	}
	return true, name + " ok"
}

// StartHopper drives stop=0, settle, start=1 for one hopper.
func (c *Commander) StartHopper(hopper int) (bool, string) {
	checkHopper(hopper)
	c.latches[hopper].Lock()
	defer c.latches[hopper].Unlock()
	return c.run(fmt.Sprintf("start hopper %d", hopper), []Step{
		coil(Coil(hopper, CoilStop), false, configs.CommandStepDelay),
		coil(Coil(hopper, CoilStart), true, 0),
	})
}

// StopHopper drives start=0, settle, stop=1 for one hopper.
func (c *Commander) StopHopper(hopper int) (bool, string) {
	checkHopper(hopper)
	c.latches[hopper].Lock()
	defer c.latches[hopper].Unlock()
	return c.run(fmt.Sprintf("stop hopper %d", hopper), []Step{
		coil(Coil(hopper, CoilStart), false, configs.CommandStepDelay),
		coil(Coil(hopper, CoilStop), true, 0),
	})
}

// StartAllHoppers is the batch variant of StartHopper: one multi-coil write
// per block instead of six single writes.
func (c *Commander) StartAllHoppers() (bool, string) {
	c.globalLatch.Lock()
	defer c.globalLatch.Unlock()
	return c.run("start all hoppers", []Step{
		batch(StopCoilBase, false, configs.NumberOfHoppers, configs.CommandStepDelay),
		batch(StartCoilBase, true, configs.NumberOfHoppers, 0),
	})
}

// Discharge pulses the discharge gate of one hopper open long enough for the
// pan to empty.
func (c *Commander) Discharge(hopper int) (bool, string) {
	checkHopper(hopper)
	c.latches[hopper].Lock()
	defer c.latches[hopper].Unlock()
	return c.run(fmt.Sprintf("discharge hopper %d", hopper), []Step{
		coil(Coil(hopper, CoilDischarge), true, configs.DischargeHoldTime),
		coil(Coil(hopper, CoilDischarge), false, 0),
	})
}

// GlobalStart drives the machine-level stop/start pair.
func (c *Commander) GlobalStart() (bool, string) {
	c.globalLatch.Lock()
	defer c.globalLatch.Unlock()
	return c.run("global start", []Step{
		coil(GlobalStopCoil, false, configs.CommandStepDelay),
		coil(GlobalStartCoil, true, 0),
	})
}

// GlobalStop drives the machine-level start/stop pair.
func (c *Commander) GlobalStop() (bool, string) {
	c.globalLatch.Lock()
	defer c.globalLatch.Unlock()
	return c.run("global stop", []Step{
		coil(GlobalStartCoil, false, configs.CommandStepDelay),
		coil(GlobalStopCoil, true, 0),
	})
}

// GlobalDischarge pulses every discharge gate at once.
func (c *Commander) GlobalDischarge() (bool, string) {
	c.globalLatch.Lock()
	defer c.globalLatch.Unlock()
	return c.run("global discharge", []Step{
		coil(GlobalDischargeCoil, true, configs.DischargeHoldTime),
		coil(GlobalDischargeCoil, false, 0),
	})
}

// GlobalClear pulses the machine-level clear coil.
func (c *Commander) GlobalClear() (bool, string) {
	c.globalLatch.Lock()
	defer c.globalLatch.Unlock()
	return c.run("global clear", []Step{
		coil(GlobalClearCoil, true, configs.CommandStepDelay),
		coil(GlobalClearCoil, false, 0),
	})
}

// ZeroCalibrate pulses the zero-calibration coil of one hopper.
func (c *Commander) ZeroCalibrate(hopper int) (bool, string) {
	checkHopper(hopper)
	c.latches[hopper].Lock()
	defer c.latches[hopper].Unlock()
	return c.run(fmt.Sprintf("zero calibrate hopper %d", hopper), []Step{
		coil(Coil(hopper, CoilZeroCalibration), true, configs.CalibrationHoldTime),
		coil(Coil(hopper, CoilZeroCalibration), false, 0),
	})
}

// WeightCalibrate pulses the weight-calibration coil of one hopper.
func (c *Commander) WeightCalibrate(hopper int) (bool, string) {
	checkHopper(hopper)
	c.latches[hopper].Lock()
	defer c.latches[hopper].Unlock()
	return c.run(fmt.Sprintf("weight calibrate hopper %d", hopper), []Step{
		coil(Coil(hopper, CoilWeightCalibration), true, configs.CalibrationHoldTime),
		coil(Coil(hopper, CoilWeightCalibration), false, 0),
	})
}

// StopPackagingMachine pulses the downstream packaging-machine stop coil.
func (c *Commander) StopPackagingMachine() (bool, string) {
	c.globalLatch.Lock()
	defer c.globalLatch.Unlock()
	return c.run("stop packaging machine", []Step{
		coil(PackagingMachineStopCoil, true, configs.CommandStepDelay),
		coil(PackagingMachineStopCoil, false, 0),
	})
}

// ClearPackageCount resets the package counter register via its clear coil.
func (c *Commander) ClearPackageCount() (bool, string) {
	c.globalLatch.Lock()
	defer c.globalLatch.Unlock()
	return c.run("clear package count", []Step{
		coil(PackageCountClearCoil, true, configs.CommandStepDelay),
		coil(PackageCountClearCoil, false, 0),
	})
}
