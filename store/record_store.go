package store

import (
	"sync"

	tmdb "github.com/tendermint/tm-db"
	"github.com/tendermint/tm-db/memdb"
)

const prefixRecord = "record/"

// RecordStore is the key/value table behind the network record api.
type RecordStore struct {
	mtx sync.RWMutex
	db  tmdb.DB
}

func NewRecordStore(db tmdb.DB) *RecordStore {
	return &RecordStore{db: db}
}

// NewMemRecordStore returns a record store kept in memory.
func NewMemRecordStore() *RecordStore {
	return NewRecordStore(memdb.NewDB())
}

func (rs *RecordStore) Put(key string, value []byte) error {
	rs.mtx.Lock()
	defer rs.mtx.Unlock()
	return rs.db.Set(recordKey(key), value)
}

// Get returns nil if nothing is stored under key.
func (rs *RecordStore) Get(key string) ([]byte, error) {
	rs.mtx.RLock()
	defer rs.mtx.RUnlock()
	return rs.db.Get(recordKey(key))
}

// Keys lists every stored key.
func (rs *RecordStore) Keys() ([]string, error) {
	rs.mtx.RLock()
	defer rs.mtx.RUnlock()

	ite, err := iteratePrefix(rs.db, []byte(prefixRecord))
	if err != nil {
		return nil, err
	}
	defer ite.Close()

	var keys []string
	for ; ite.Valid(); ite.Next() {
		keys = append(keys, string(ite.Key()[len(prefixRecord):]))
	}
	return keys, ite.Error()
}

func recordKey(key string) []byte {
	return []byte(prefixRecord + key)
}
