package storage

import (
	"context"
	"sync"
	"time"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/goccy/go-json"
	"github.com/tidwall/wal"
)

// TrialRecord is one appended journal entry: a single trial of one bucket in
// one stage, with the verdict it received.
type TrialRecord struct {
	Hopper      int     `json:"hopper"`
	Stage       string  `json:"stage"`
	Attempt     int     `json:"attempt"`
	ElapsedMs   int64   `json:"elapsed_ms"`
	RealWeight  float64 `json:"real_weight,omitempty"`
	IsCompliant bool    `json:"is_compliant"`
	Message     string  `json:"message,omitempty"`
	At          int64   `json:"at"`
}

// Journal is the append-only trial log, batched to the WAL on a short timer.
// Disabled by default; NewJournal returns an inert instance when
// configs.UseJournal is off.
type Journal struct {
	latch  sync.Mutex
	lsn    uint64
	logs   *wal.Log
	buffer *wal.Batch
	cancel context.CancelFunc
}

func NewJournal() *Journal {
	res := &Journal{}
	if !configs.UseJournal {
		return res
	}
	log, err := wal.Open(configs.JournalDirectory, nil)
	if err != nil {
		panic(err)
	}
	res.logs = log
	res.lsn, err = log.LastIndex()
	if err != nil {
		panic(err)
	}
	res.buffer = &wal.Batch{}
	ctx, cancel := context.WithCancel(context.Background())
	res.cancel = cancel
	go res.batchSync(ctx, res.lsn)
	return res
}

func (j *Journal) Append(rec *TrialRecord) {
	if j.logs == nil {
		return
	}
	rec.At = time.Now().UnixMilli()
	byt, err := json.Marshal(rec)
	if err != nil {
		configs.Warn(false, "journal: marshal failed: "+err.Error())
		return
	}
	j.latch.Lock()
	defer j.latch.Unlock()
	j.lsn++
	j.buffer.Write(j.lsn, byt)
}

func (j *Journal) batchSync(ctx context.Context, initLSN uint64) {
	lastLSN := initLSN
	for {
		select {
		case <-time.After(configs.JournalBatchInterval):
			j.latch.Lock()
			if j.lsn == lastLSN {
				j.latch.Unlock()
				continue
			}
			if err := j.logs.WriteBatch(j.buffer); err != nil {
				panic(err)
			}
			j.buffer.Clear()
			lastLSN = j.lsn
			j.latch.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

func (j *Journal) Close() {
	if j.logs == nil {
		return
	}
	j.cancel()
	j.latch.Lock()
	defer j.latch.Unlock()
	if err := j.logs.WriteBatch(j.buffer); err == nil {
		j.buffer.Clear()
	}
	configs.CheckError(j.logs.Close())
}
