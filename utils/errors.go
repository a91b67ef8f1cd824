package utils

import "errors"

// These errors can occur while a stage controller drives a bucket.
var (
	ErrCancelled       = errors.New("calibration cancelled by operator")
	ErrBudgetExhausted = errors.New("attempt budget exhausted")
	ErrStarvation      = errors.New("insufficient material in hopper")
	ErrNoAdjustment    = errors.New("analysis rejected the trial without an adjustment")
)
