package monitor

import (
	"testing"
	"time"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/magiconair/properties/assert"
)

func TestWindowFillsBeforeJudging(t *testing.T) {
	w := newWeightWindow()
	base := time.Now()
	assert.Equal(t, false, w.full())

	w.push(base, 10.0)
	assert.Equal(t, false, w.full())
	w.push(base.Add(configs.StarvationWindow/2), 10.1)
	assert.Equal(t, false, w.full())
	w.push(base.Add(configs.StarvationWindow), 10.2)
	assert.Equal(t, true, w.full())
}

func TestWindowDelta(t *testing.T) {
	w := newWeightWindow()
	base := time.Now()
	w.push(base, 5.0)
	w.push(base.Add(configs.StarvationWindow), 5.2)
	if d := w.delta(); d < 0.19 || d > 0.21 {
		t.Fatalf("delta = %v, want ~0.2", d)
	}
}

func TestWindowEvictsOldSamples(t *testing.T) {
	w := newWeightWindow()
	base := time.Now()
	for i := 0; i < 200; i++ {
		w.push(base.Add(time.Duration(i)*configs.MonitorTickInterval), float64(i))
	}
	head := w.samples[0]
	last := w.samples[len(w.samples)-1]
	assert.Equal(t, last.at.Sub(head.at) <= configs.StarvationWindow, true)
	// the delta reflects only the retained span, not the whole history.
	assert.Equal(t, w.delta() < 160, true)
}

func TestWindowReset(t *testing.T) {
	w := newWeightWindow()
	w.push(time.Now(), 1.0)
	w.reset()
	assert.Equal(t, 0, len(w.samples))
	assert.Equal(t, false, w.full())
	assert.Equal(t, 0.0, w.delta())
}
