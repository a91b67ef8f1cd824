package calibrate

import (
	"context"
	"time"

	"github.com/MIMAOC/packaging-machine-maste-sub000/utils"
)

// edgeWaiter bridges monitor callbacks into channels a stage worker can block
// on. The monitor must never block, so every channel is buffered and sends
// are non-blocking; the worker drains stale edges before re-arming.
type edgeWaiter struct {
	hopper     int
	events     Events
	target     chan time.Duration
	coarseFall chan struct{}
	starve     chan string
}

func newEdgeWaiter(hopper int, events Events) *edgeWaiter {
	return &edgeWaiter{
		hopper:     hopper,
		events:     events,
		target:     make(chan time.Duration, 1),
		coarseFall: make(chan struct{}, 1),
		starve:     make(chan string, 1),
	}
}

func (w *edgeWaiter) OnTargetReached(hopper int, elapsed time.Duration) {
	select {
	case w.target <- elapsed:
	default:
	}
}

func (w *edgeWaiter) OnCoarseStatusChanged(hopper int, active bool) {
	if active {
		return
	}
	select {
	case w.coarseFall <- struct{}{}:
	default:
	}
}

func (w *edgeWaiter) OnStarvationDetected(hopper int, stage string, isProduction bool) {
	w.events.OnStarvationDetected(hopper, stage, isProduction)
	select {
	case w.starve <- stage:
	default:
	}
}

// drain discards edges left over from a previous attempt.
func (w *edgeWaiter) drain() {
	for {
		select {
		case <-w.target:
		case <-w.coarseFall:
		case <-w.starve:
		default:
			return
		}
	}
}

// waitTarget blocks until the target-reached edge for this arm cycle.
func (w *edgeWaiter) waitTarget(ctx context.Context) (time.Duration, error) {
	select {
	case <-ctx.Done():
		return 0, utils.ErrCancelled
	case <-w.starve:
		return 0, utils.ErrStarvation
	case elapsed := <-w.target:
		return elapsed, nil
	}
}

// waitCoarseFall blocks until the coarse-active falling edge.
func (w *edgeWaiter) waitCoarseFall(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return utils.ErrCancelled
	case <-w.starve:
		return utils.ErrStarvation
	case <-w.coarseFall:
		return nil
	}
}
