// Package storage hosts the external collaborators of the calibration core:
// the learned-parameter read-through cache and the trial journal. The core
// itself persists nothing; everything here is consulted at session start and
// written back on completion.
package storage

import (
	"strconv"
	"sync"
	"time"

	"github.com/MIMAOC/packaging-machine-maste-sub000/configs"
)

// LearnedParams is the final parameter set of one successful calibration,
// keyed by material and target weight.
type LearnedParams struct {
	Material      string    `json:"material"`
	TargetWeight  float64   `json:"target_weight"`
	CoarseSpeed   float64   `json:"coarse_speed"`
	FineSpeed     float64   `json:"fine_speed"`
	CoarseAdvance float64   `json:"coarse_advance"`
	FallValue     float64   `json:"fall_value"`
	FlowRate      *float64  `json:"flow_rate,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store is the learned-parameter cache surface.
type Store interface {
	Lookup(material string, targetWeight float64) (*LearnedParams, bool, error)
	Save(p *LearnedParams) error
	Close() error
}

// NewStore builds the backend selected by configs.StoreType.
func NewStore() (Store, error) {
	switch configs.StoreType {
	case configs.MemoryStore:
		return NewMemoryStore(), nil
	case configs.PostgreSQL:
		return NewPostgresStore(configs.PostgreSQLLink)
	case configs.MongoDB:
		return NewMongoStore(configs.MongoDBLink)
	default:
		configs.Assert(false, "unknown store type "+configs.StoreType)
		return nil, nil
	}
}

func storeKey(material string, targetWeight float64) string {
	return material + "_" + strconv.FormatFloat(targetWeight, 'f', 1, 64)
}

// MemoryStore is the default in-process cache, used when no database is
// configured and in every test kit.
type MemoryStore struct {
	latch *sync.Mutex
	data  map[string]*LearnedParams
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		latch: &sync.Mutex{},
		data:  make(map[string]*LearnedParams),
	}
}

func (s *MemoryStore) Lookup(material string, targetWeight float64) (*LearnedParams, bool, error) {
	s.latch.Lock()
	defer s.latch.Unlock()
	p, ok := s.data[storeKey(material, targetWeight)]
	if !ok {
		return nil, false, nil
	}
	cp := *p
	return &cp, true, nil
}

func (s *MemoryStore) Save(p *LearnedParams) error {
	s.latch.Lock()
	defer s.latch.Unlock()
	cp := *p
	cp.UpdatedAt = time.Now()
	s.data[storeKey(p.Material, p.TargetWeight)] = &cp
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
