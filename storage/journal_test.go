package storage

import (
	"path/filepath"
	"testing"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
	"github.com/goccy/go-json"
	"github.com/magiconair/properties/assert"
	"github.com/tidwall/wal"
)

func TestJournalDisabledIsInert(t *testing.T) {
	old := configs.UseJournal
	configs.UseJournal = false
	defer func() { configs.UseJournal = old }()

	j := NewJournal()
	j.Append(&TrialRecord{Hopper: 1, Stage: configs.StageCoarseTime})
	j.Close()
}

func TestJournalPersistsTrials(t *testing.T) {
	oldUse, oldDir := configs.UseJournal, configs.JournalDirectory
	configs.UseJournal = true
	configs.JournalDirectory = filepath.Join(t.TempDir(), "journal")
	defer func() { configs.UseJournal, configs.JournalDirectory = oldUse, oldDir }()

	j := NewJournal()
	j.Append(&TrialRecord{Hopper: 3, Stage: configs.StageCoarseTime, Attempt: 1, ElapsedMs: 3100})
	j.Append(&TrialRecord{Hopper: 3, Stage: configs.StageCoarseTime, Attempt: 2, ElapsedMs: 2800, IsCompliant: true})
	j.Close()

	logs, err := wal.Open(configs.JournalDirectory, nil)
	assert.Equal(t, nil, err)
	defer func() { configs.CheckError(logs.Close()) }()
	last, err := logs.LastIndex()
	assert.Equal(t, nil, err)
	assert.Equal(t, uint64(2), last)

	byt, err := logs.Read(2)
	assert.Equal(t, nil, err)
	var rec TrialRecord
	assert.Equal(t, nil, json.Unmarshal(byt, &rec))
	assert.Equal(t, 3, rec.Hopper)
	assert.Equal(t, 2, rec.Attempt)
	assert.Equal(t, true, rec.IsCompliant)
	assert.Equal(t, rec.At > 0, true)
}
