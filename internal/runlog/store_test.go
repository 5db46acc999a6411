package runlog

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStore(db)
}

func TestRunlog(t *testing.T) {
	store := setupTestStore(t)

	t.Run("RecordAssignsID", func(t *testing.T) {
		rec := &Record{
			Tag:     "v2.1.0",
			Patch:   "hotfix+v2.1.0",
			State:   "Success",
			Result:  "published",
			Started: time.Now(),
		}
		require.NoError(t, store.Record(rec))
		assert.NotEmpty(t, rec.ID)
		assert.False(t, rec.Finished.IsZero())
	})

	t.Run("TagRequired", func(t *testing.T) {
		err := store.Record(&Record{State: "Failed"})
		assert.Error(t, err)
	})

	t.Run("Get", func(t *testing.T) {
		rec := &Record{
			ID:      uuid.New().String(),
			Tag:     "v2.1.0",
			Patch:   "hotfix+v2.1.0",
			State:   "Failed",
			Result:  "failed",
			Error:   "BUILD_FAILURE [BuildingBaseline]: build failed",
			Started: time.Now(),
		}
		require.NoError(t, store.Record(rec))

		got, err := store.Get(rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.Tag, got.Tag)
		assert.Equal(t, rec.Error, got.Error)

		_, err = store.Get("does-not-exist")
		assert.Error(t, err)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		rec := &Record{ID: uuid.New().String(), Tag: "v1", Started: time.Now()}
		require.NoError(t, store.Record(rec))
		assert.Error(t, store.Record(rec))
	})

	t.Run("ListMostRecentFirst", func(t *testing.T) {
		store := setupTestStore(t)

		base := time.Now()
		for i := 0; i < 3; i++ {
			require.NoError(t, store.Record(&Record{
				Tag:     "v2.1.0",
				Result:  "published",
				Started: base.Add(time.Duration(i) * time.Minute),
			}))
		}

		records, err := store.List()
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.True(t, records[0].Started.After(records[1].Started))
		assert.True(t, records[1].Started.After(records[2].Started))
	})
}
