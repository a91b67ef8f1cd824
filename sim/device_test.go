package sim

import (
	"errors"
	"testing"
	"time"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/MIMAOC/packaging-machine-maste-sub000/plc"
	"github.com/magiconair/properties/assert"
)

func runUntilReached(t *testing.T, d *Device, hopper int, steps int) {
	t.Helper()
	for i := 0; i < steps; i++ {
		d.Step(50 * time.Millisecond)
		coils, err := d.ReadCoils(plc.Coil(hopper, plc.CoilTargetReached), 1)
		assert.Equal(t, nil, err)
		if coils[0] {
			return
		}
	}
	t.Fatalf("hopper %d never reached its target", hopper)
}

func TestFillReachesTarget(t *testing.T) {
	d := NewDevice()
	assert.Equal(t, nil, plc.WriteParam(d, 1, plc.ParamTargetWeight, 50))
	assert.Equal(t, nil, d.WriteCoil(plc.Coil(1, plc.CoilStart), true))

	runUntilReached(t, d, 1, 200)
	w, err := plc.ReadWeight(d, 1)
	assert.Equal(t, nil, err)
	// the landed flight material puts the final weight past the cut point.
	assert.Equal(t, w > 49, true)

	// feeding halts once the target latch is up.
	before := d.Weight(1)
	d.Step(50 * time.Millisecond)
	assert.Equal(t, before, d.Weight(1))
}

func TestCoarseActiveFallsAtAdvancePoint(t *testing.T) {
	d := NewDevice()
	assert.Equal(t, nil, plc.WriteParam(d, 2, plc.ParamTargetWeight, 100))
	assert.Equal(t, nil, plc.WriteParam(d, 2, plc.ParamCoarseAdvance, 40))
	assert.Equal(t, nil, d.WriteCoil(plc.Coil(2, plc.CoilStart), true))

	sawCoarse := false
	for i := 0; i < 400; i++ {
		d.Step(50 * time.Millisecond)
		coils, err := d.ReadCoils(plc.CoarseActiveCoilBase, configs.NumberOfHoppers)
		assert.Equal(t, nil, err)
		if coils[1] {
			sawCoarse = true
			assert.Equal(t, d.Weight(2) < 100-40+5, true)
		} else if sawCoarse {
			// coarse has fallen; the rest of the fill is fine-speed only.
			break
		}
	}
	assert.Equal(t, true, sawCoarse)
}

func TestDischargeEmptiesThePan(t *testing.T) {
	d := NewDevice()
	assert.Equal(t, nil, plc.WriteParam(d, 1, plc.ParamTargetWeight, 30))
	assert.Equal(t, nil, d.WriteCoil(plc.Coil(1, plc.CoilStart), true))
	runUntilReached(t, d, 1, 200)

	assert.Equal(t, nil, d.WriteCoil(plc.Coil(1, plc.CoilDischarge), true))
	d.Step(50 * time.Millisecond)
	assert.Equal(t, nil, d.WriteCoil(plc.Coil(1, plc.CoilDischarge), false))
	assert.Equal(t, 0.0, d.Weight(1))
	coils, _ := d.ReadCoils(plc.Coil(1, plc.CoilTargetReached), 1)
	assert.Equal(t, false, coils[0])
}

func TestGlobalStartAndStop(t *testing.T) {
	d := NewDevice()
	assert.Equal(t, nil, d.WriteCoil(plc.GlobalStartCoil, true))
	starts, err := d.ReadCoils(plc.StartCoilBase, configs.NumberOfHoppers)
	assert.Equal(t, nil, err)
	for _, on := range starts {
		assert.Equal(t, true, on)
	}
	assert.Equal(t, nil, d.WriteCoil(plc.GlobalStopCoil, true))
	starts, err = d.ReadCoils(plc.StartCoilBase, configs.NumberOfHoppers)
	assert.Equal(t, nil, err)
	for _, on := range starts {
		assert.Equal(t, false, on)
	}
}

func TestStarvedHopperStopsGaining(t *testing.T) {
	d := NewDevice()
	assert.Equal(t, nil, plc.WriteParam(d, 4, plc.ParamTargetWeight, 200))
	d.StarveAfter(4, 15)
	assert.Equal(t, nil, d.WriteCoil(plc.Coil(4, plc.CoilStart), true))
	for i := 0; i < 100; i++ {
		d.Step(50 * time.Millisecond)
	}
	assert.Equal(t, d.Weight(4) <= 15, true)
}

func TestFaultFailsEveryOperation(t *testing.T) {
	d := NewDevice()
	boom := errors.New("wire cut")
	d.SetFault(boom)
	_, err := d.ReadCoils(plc.StartCoilBase, configs.NumberOfHoppers)
	assert.Equal(t, boom, err)
	err = d.WriteCoil(plc.GlobalStartCoil, true)
	assert.Equal(t, boom, err)
	d.SetFault(nil)
	_, err = d.ReadCoils(plc.StartCoilBase, configs.NumberOfHoppers)
	assert.Equal(t, nil, err)
}
