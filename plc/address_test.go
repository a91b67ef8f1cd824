package plc

import (
	"testing"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/magiconair/properties/assert"
)

func TestParamRegisterTable(t *testing.T) {
	assert.Equal(t, uint16(100), ParamRegister(1, ParamTargetWeight))
	assert.Equal(t, uint16(111), ParamRegister(2, ParamCoarseSpeed))
	assert.Equal(t, uint16(155), ParamRegister(6, ParamFallValue))
}

func TestWeightRegistersAreNotContiguous(t *testing.T) {
	for h := 1; h < configs.NumberOfHoppers; h++ {
		gap := WeightRegister(h+1) - WeightRegister(h)
		assert.Equal(t, gap != 1, true)
	}
}

func TestCoilBatchBases(t *testing.T) {
	// the monitor reads these blocks with one call each; the per-hopper
	// addresses must stay contiguous from the base.
	for h := 1; h <= configs.NumberOfHoppers; h++ {
		assert.Equal(t, StartCoilBase+uint16(h-1), Coil(h, CoilStart))
		assert.Equal(t, CoarseActiveCoilBase+uint16(h-1), Coil(h, CoilCoarseActive))
		assert.Equal(t, TargetReachedCoilBase+uint16(h-1), Coil(h, CoilTargetReached))
	}
}

func TestInvalidHopperPanics(t *testing.T) {
	defer func() {
		assert.Equal(t, recover() != nil, true)
	}()
	ParamRegister(7, ParamTargetWeight)
}
