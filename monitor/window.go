package monitor

import (
	"time"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
)

type weightSample struct {
	at     time.Time
	weight float64
}

// weightWindow keeps the sliding window of live-weight samples used for
// starvation detection. Samples older than the window span are evicted on
// every push.
type weightWindow struct {
	span    time.Duration
	samples []weightSample
}

func newWeightWindow() *weightWindow {
	return &weightWindow{span: configs.StarvationWindow}
}

func (w *weightWindow) push(at time.Time, weight float64) {
	w.samples = append(w.samples, weightSample{at: at, weight: weight})
	cut := 0
	for cut < len(w.samples) && at.Sub(w.samples[cut].at) > w.span {
		cut++
	}
	if cut > 0 {
		w.samples = w.samples[cut:]
	}
}

// full reports whether the retained samples span the whole window.
func (w *weightWindow) full() bool {
	if len(w.samples) < 2 {
		return false
	}
	return w.samples[len(w.samples)-1].at.Sub(w.samples[0].at) >= w.span-configs.MonitorTickInterval
}

// delta is the weight gained across the window.
func (w *weightWindow) delta() float64 {
	if len(w.samples) < 2 {
		return 0
	}
	return w.samples[len(w.samples)-1].weight - w.samples[0].weight
}

func (w *weightWindow) reset() {
	w.samples = w.samples[:0]
}
