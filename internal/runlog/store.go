// internal/runlog/store.go
package runlog

import (
	"fmt"
	"sort"
	"time"

	"distpatch/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Record is the durable trace of one terminal pipeline run. It is a
// provenance aid, not a lock; nothing reads it on the hot path.
type Record struct {
	ID       string    `json:"id"`
	Tag      string    `json:"tag"`
	Patch    string    `json:"patch"`
	State    string    `json:"state"`  // terminal state
	Result   string    `json:"result"` // published, no-op, skipped, failed, rolled-back
	Error    string    `json:"error,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

type recordEntity struct {
	*Record
}

func (r *recordEntity) GetID() string {
	return r.ID
}

// Store keeps run records in badger.
type Store struct {
	store *storage.BadgerStore
}

func NewStore(db *badger.DB) *Store {
	return &Store{store: storage.NewBadgerStore(db, "run")}
}

func (s *Store) Record(rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Tag == "" {
		return fmt.Errorf("run record needs a tag")
	}
	if rec.Finished.IsZero() {
		rec.Finished = time.Now()
	}
	return s.store.Create(&recordEntity{Record: rec})
}

func (s *Store) Get(id string) (*Record, error) {
	var entity recordEntity
	entity.Record = &Record{}
	if err := s.store.Get(id, &entity); err != nil {
		return nil, fmt.Errorf("getting run record: %w", err)
	}
	return entity.Record, nil
}

// List returns all run records, most recent first.
func (s *Store) List() ([]*Record, error) {
	var entities []recordEntity
	if err := s.store.List(&entities); err != nil {
		return nil, fmt.Errorf("listing run records: %w", err)
	}

	records := make([]*Record, len(entities))
	for i, entity := range entities {
		records[i] = entity.Record
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Started.After(records[j].Started)
	})
	return records, nil
}
