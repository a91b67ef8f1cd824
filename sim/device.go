// Package sim is an in-memory stand-in for the weighing machine PLC. It
// speaks the same register and coil map as the real device and runs a crude
// fill model, which is enough for end-to-end tests and for bench runs without
// hardware on the bench.
package sim

import (
	"math/rand"
	"sync"
	"time"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/MIMAOC/packaging-machine-maste-sub000/plc"
	"github.com/pingcap/go-ycsb/pkg/generator"
)

// fill model constants, display units (grams, grams per second).
const (
	coarseRatePerSpeed = 0.5
	fineRatePerSpeed   = 0.2
	flightLandingBase  = 1.2
	// noiseSteps is the range of the skewed per-tick noise, in 0.01g steps.
	noiseSteps    = 30
	noiseSkewness = 0.8
)

type hopperModel struct {
	weight    float64
	filling   bool
	coarse    bool
	reached   bool
	starved   bool
	starveCap float64
}

// Device implements plc.Bus over in-memory register and coil maps. Dynamics
// advance only through Step or the Run loop, so tests control time.
type Device struct {
	latch   *sync.Mutex
	regs    map[uint16]uint16
	coils   map[uint16]bool
	hoppers [configs.NumberOfHoppers + 1]hopperModel
	fault   error

	r   *rand.Rand
	zip *generator.Zipfian
}

func NewDevice() *Device {
	d := &Device{
		latch: &sync.Mutex{},
		regs:  make(map[uint16]uint16),
		coils: make(map[uint16]bool),
		r:     rand.New(rand.NewSource(42)),
		zip:   generator.NewZipfianWithRange(0, noiseSteps, noiseSkewness),
	}
	for h := 1; h <= configs.NumberOfHoppers; h++ {
		d.regs[plc.ParamRegister(h, plc.ParamCoarseSpeed)] = configs.ToRaw(configs.DefaultCoarseSpeed)
		d.regs[plc.ParamRegister(h, plc.ParamFineSpeed)] = configs.ToRaw(configs.DefaultFineSpeed)
		d.regs[plc.ParamRegister(h, plc.ParamFallValue)] = configs.ToRaw(configs.DefaultFallValue)
	}
	return d
}

// SetFault makes every bus operation fail until cleared with nil.
func (d *Device) SetFault(err error) {
	d.latch.Lock()
	defer d.latch.Unlock()
	d.fault = err
}

// StarveAfter caps the fill of one hopper, simulating an empty feed chute.
func (d *Device) StarveAfter(hopper int, grams float64) {
	d.latch.Lock()
	defer d.latch.Unlock()
	d.hoppers[hopper].starved = true
	d.hoppers[hopper].starveCap = grams
}

// Weight reports the modeled pan weight of one hopper.
func (d *Device) Weight(hopper int) float64 {
	d.latch.Lock()
	defer d.latch.Unlock()
	return d.hoppers[hopper].weight
}

// Run advances the model on a real ticker until the context ends.
func (d *Device) Run(ctx <-chan struct{}, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx:
			return
		case <-t.C:
			d.Step(interval)
		}
	}
}

// Step advances the fill model by dt.
func (d *Device) Step(dt time.Duration) {
	d.latch.Lock()
	defer d.latch.Unlock()
	for h := 1; h <= configs.NumberOfHoppers; h++ {
		d.stepHopper(h, dt)
	}
}

func (d *Device) stepHopper(h int, dt time.Duration) {
	m := &d.hoppers[h]

	if d.coils[plc.Coil(h, plc.CoilDischarge)] {
		m.weight = 0
		m.reached = false
		d.coils[plc.Coil(h, plc.CoilTargetReached)] = false
	}

	running := d.coils[plc.Coil(h, plc.CoilStart)] && !d.coils[plc.Coil(h, plc.CoilStop)]
	if !running || m.reached {
		m.filling = false
		m.coarse = false
		d.coils[plc.Coil(h, plc.CoilCoarseActive)] = false
		return
	}
	m.filling = true

	target := configs.FromRaw(d.regs[plc.ParamRegister(h, plc.ParamTargetWeight)])
	advance := configs.FromRaw(d.regs[plc.ParamRegister(h, plc.ParamCoarseAdvance)])
	fall := configs.FromRaw(d.regs[plc.ParamRegister(h, plc.ParamFallValue)])
	coarseSpeed := configs.FromRaw(d.regs[plc.ParamRegister(h, plc.ParamCoarseSpeed)])
	fineSpeed := configs.FromRaw(d.regs[plc.ParamRegister(h, plc.ParamFineSpeed)])

	m.coarse = m.weight < target-advance
	d.coils[plc.Coil(h, plc.CoilCoarseActive)] = m.coarse

	rate := fineSpeed * fineRatePerSpeed
	if m.coarse {
		rate = coarseSpeed * coarseRatePerSpeed
	}
	gain := rate*dt.Seconds() + d.noise()
	if m.starved && m.weight+gain > m.starveCap {
		gain = 0
	}
	m.weight += gain

	if m.weight >= target-fall {
		m.reached = true
		m.coarse = false
		d.coils[plc.Coil(h, plc.CoilCoarseActive)] = false
		d.coils[plc.Coil(h, plc.CoilTargetReached)] = true
		// material already past the gate keeps landing after the cut.
		m.weight += flightLandingBase + d.noise()
	}
}

// noise draws a small skewed perturbation so repeated trials never produce
// byte-identical weights.
func (d *Device) noise() float64 {
	return float64(d.zip.Next(d.r)) * 0.01
}

func (d *Device) ReadRegisters(addr uint16, quantity uint16) ([]uint16, error) {
	d.latch.Lock()
	defer d.latch.Unlock()
	if d.fault != nil {
		return nil, d.fault
	}
	res := make([]uint16, quantity)
	for i := range res {
		a := addr + uint16(i)
		if w, ok := d.weightAt(a); ok {
			res[i] = w
		} else {
			res[i] = d.regs[a]
		}
	}
	return res, nil
}

// weightAt resolves live-weight register reads against the model.
func (d *Device) weightAt(addr uint16) (uint16, bool) {
	for h := 1; h <= configs.NumberOfHoppers; h++ {
		if plc.WeightRegister(h) == addr {
			return configs.ToRaw(d.hoppers[h].weight), true
		}
	}
	return 0, false
}

func (d *Device) WriteRegister(addr uint16, value uint16) error {
	d.latch.Lock()
	defer d.latch.Unlock()
	if d.fault != nil {
		return d.fault
	}
	d.regs[addr] = value
	return nil
}

func (d *Device) WriteRegisters(addr uint16, values []uint16) error {
	d.latch.Lock()
	defer d.latch.Unlock()
	if d.fault != nil {
		return d.fault
	}
	for i, v := range values {
		d.regs[addr+uint16(i)] = v
	}
	return nil
}

func (d *Device) ReadCoils(addr uint16, quantity uint16) ([]bool, error) {
	d.latch.Lock()
	defer d.latch.Unlock()
	if d.fault != nil {
		return nil, d.fault
	}
	res := make([]bool, quantity)
	for i := range res {
		res[i] = d.coils[addr+uint16(i)]
	}
	return res, nil
}

func (d *Device) WriteCoil(addr uint16, on bool) error {
	d.latch.Lock()
	defer d.latch.Unlock()
	if d.fault != nil {
		return d.fault
	}
	d.setCoil(addr, on)
	return nil
}

func (d *Device) WriteCoils(addr uint16, values []bool) error {
	d.latch.Lock()
	defer d.latch.Unlock()
	if d.fault != nil {
		return d.fault
	}
	for i, v := range values {
		d.setCoil(addr+uint16(i), v)
	}
	return nil
}

// setCoil applies the side effects the real PLC ladder performs, at write
// time rather than on the next model step, matching a device that reacts
// faster than the host can poll.
func (d *Device) setCoil(addr uint16, on bool) {
	d.coils[addr] = on
	if !on {
		return
	}
	for h := 1; h <= configs.NumberOfHoppers; h++ {
		if addr == plc.Coil(h, plc.CoilDischarge) {
			d.hoppers[h].weight = 0
			d.hoppers[h].reached = false
			d.coils[plc.Coil(h, plc.CoilTargetReached)] = false
			return
		}
	}
	switch addr {
	case plc.GlobalStartCoil:
		for h := 1; h <= configs.NumberOfHoppers; h++ {
			d.coils[plc.Coil(h, plc.CoilStart)] = true
			d.coils[plc.Coil(h, plc.CoilStop)] = false
		}
	case plc.GlobalStopCoil:
		for h := 1; h <= configs.NumberOfHoppers; h++ {
			d.coils[plc.Coil(h, plc.CoilStart)] = false
			d.coils[plc.Coil(h, plc.CoilStop)] = true
		}
	case plc.GlobalDischargeCoil:
		for h := 1; h <= configs.NumberOfHoppers; h++ {
			d.hoppers[h].weight = 0
			d.hoppers[h].reached = false
			d.coils[plc.Coil(h, plc.CoilTargetReached)] = false
		}
	case plc.PackageCountClearCoil:
		d.regs[plc.PackageCountRegister] = 0
	}
}
