package utils

import (
	"sync"
	"time"
)

// Info the timing information of a single stage run on one bucket.
type Info struct {
	Hopper int
	Stage  string
	// the wall time between the stage being armed and its terminal status.
	Latency time.Duration
	// the cumulative time spent waiting on PLC command sequences.
	CommandTime time.Duration
	// the cumulative time spent in analysis round trips.
	AnalysisTime time.Duration
	Attempts     int
	IsFailure    bool
}

func NewInfo(hopper int, stage string) *Info {
	return &Info{Hopper: hopper, Stage: stage}
}

// Stat collects per-stage Infos for one calibration session.
type Stat struct {
	mu        *sync.Mutex
	infos     []*Info
	beginTime time.Time
	endTime   time.Time
}

func NewStat() *Stat {
	return &Stat{
		mu:        &sync.Mutex{},
		infos:     make([]*Info, 0),
		beginTime: time.Now(),
		endTime:   time.Now(),
	}
}

func (st *Stat) Append(info *Info) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.endTime = time.Now()
	st.infos = append(st.infos, info)
}

func (st *Stat) Count() (success int, failure int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, v := range st.infos {
		if v.IsFailure {
			failure++
		} else {
			success++
		}
	}
	return
}

// Elapsed the wall time covered by this stat window.
func (st *Stat) Elapsed() time.Duration {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.endTime.Sub(st.beginTime)
}
