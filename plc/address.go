// Package plc talks to the weighing machine controller over Modbus/TCP. It
// owns the hand-maintained address tables, the single shared transport, and
// the timed coil command sequences every caller must go through.
package plc

import (
	"strconv"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
)

// ParamRole identifies one of the per-hopper parameter registers.
type ParamRole uint8

const (
	ParamTargetWeight ParamRole = iota
	ParamCoarseSpeed
	ParamFineSpeed
	ParamCoarseAdvance
	ParamFineAdvance
	ParamFallValue
)

// CoilRole identifies one of the per-hopper control or status coils.
type CoilRole uint8

const (
	CoilStart CoilRole = iota
	CoilStop
	CoilDischarge
	CoilClean
	CoilDisable
	CoilCoarseActive
	CoilFineActive
	CoilJog
	CoilTargetReached
	CoilZeroCalibration
	CoilWeightCalibration
)

// The address layout below is a closed table copied from the vendor sheet.
// DO NOT derive addresses arithmetically anywhere else: the live-weight
// registers in particular are deliberately non-contiguous and cannot be read
// as one block.
var paramRegisters = [configs.NumberOfHoppers + 1][6]uint16{
	{},
	{100, 101, 102, 103, 104, 105},
	{110, 111, 112, 113, 114, 115},
	{120, 121, 122, 123, 124, 125},
	{130, 131, 132, 133, 134, 135},
	{140, 141, 142, 143, 144, 145},
	{150, 151, 152, 153, 154, 155},
}

var weightRegisters = [configs.NumberOfHoppers + 1]uint16{0, 700, 702, 704, 706, 708, 710}

var hopperCoils = [configs.NumberOfHoppers + 1][11]uint16{
	{},
	{120, 130, 140, 150, 160, 170, 180, 190, 200, 210, 220},
	{121, 131, 141, 151, 161, 171, 181, 191, 201, 211, 221},
	{122, 132, 142, 152, 162, 172, 182, 192, 202, 212, 222},
	{123, 133, 143, 153, 163, 173, 183, 193, 203, 213, 223},
	{124, 134, 144, 154, 164, 174, 184, 194, 204, 214, 224},
	{125, 135, 145, 155, 165, 175, 185, 195, 205, 215, 225},
}

// Global control addresses.
const (
	GlobalStartCoil          uint16 = 300
	GlobalStopCoil           uint16 = 301
	GlobalDischargeCoil      uint16 = 302
	GlobalClearCoil          uint16 = 303
	PackagingMachineStopCoil uint16 = 304
	PackageCountClearCoil    uint16 = 305

	PackageCountRegister uint16 = 600
)

// Batch bases for the coil blocks the monitoring engine reads in one call.
const (
	StartCoilBase         uint16 = 120
	CoarseActiveCoilBase  uint16 = 170
	TargetReachedCoilBase uint16 = 200
)

func checkHopper(hopper int) {
	configs.Assert(hopper >= 1 && hopper <= configs.NumberOfHoppers,
		"invalid hopper id "+strconv.Itoa(hopper))
}

// ParamRegister returns the holding-register address of one parameter of one
// hopper. Invalid arguments are a programming error.
func ParamRegister(hopper int, role ParamRole) uint16 {
	checkHopper(hopper)
	configs.Assert(role <= ParamFallValue, "invalid parameter role")
	return paramRegisters[hopper][role]
}

// WeightRegister returns the live-weight register address of a hopper.
func WeightRegister(hopper int) uint16 {
	checkHopper(hopper)
	return weightRegisters[hopper]
}

// Coil returns the coil address for a hopper role.
func Coil(hopper int, role CoilRole) uint16 {
	checkHopper(hopper)
	configs.Assert(role <= CoilWeightCalibration, "invalid coil role")
	return hopperCoils[hopper][role]
}
