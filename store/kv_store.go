package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/log"
	tmdb "github.com/tendermint/tm-db"
	leveldb "github.com/tendermint/tm-db/goleveldb"

	"vidbft/types"
)

var ErrLeafNotFound = errors.New("leaf not found")

const (
	prefixLeaf = "leaf/"
	prefixView = "view/"
	keyLatest  = "latest"
)

// NewKVStore opens a goleveldb backed store under dir.
func NewKVStore(name, dir string, logger log.Logger) (*KVStore, error) {
	levelDB, err := leveldb.NewDB(name, dir)
	if err != nil {
		return nil, err
	}
	return NewKVStoreWithDB(levelDB, logger), nil
}

func NewKVStoreWithDB(kvdb tmdb.DB, logger log.Logger) *KVStore {
	return &KVStore{kvDB: kvdb, logger: logger}
}

// KVStore persists decided leaves.
// table definition：
// leaf table: key=leaf/{commitment}; value=json(leaf)
// view table: key=view/{be64(view)}; value=commitment
// latest: key=latest; value=commitment of the newest decided leaf
type KVStore struct {
	kvDB tmdb.DB

	logger log.Logger
}

// CommitLeaf writes leaf and its view index in one batch.
func (kv *KVStore) CommitLeaf(leaf *types.Leaf) error {
	var batch tmdb.Batch = nil
	defer func() {
		if batch != nil {
			batch.Close()
		}
	}()

	bz, err := tmjson.Marshal(leaf)
	if err != nil {
		return fmt.Errorf("marshal leaf: %w", err)
	}
	c := leaf.Commit()

	batch = kv.kvDB.NewBatch()
	if err := batch.Set(leafKey(c), bz); err != nil {
		return err
	}
	if err := batch.Set(viewKey(leaf.View), c[:]); err != nil {
		return err
	}
	latest, err := kv.LoadLatestLeaf()
	if err != nil && !errors.Is(err, ErrLeafNotFound) {
		return err
	}
	if latest == nil || leaf.View > latest.View {
		if err := batch.Set([]byte(keyLatest), c[:]); err != nil {
			return err
		}
	}
	if err := batch.WriteSync(); err != nil {
		return err
	}
	if err := batch.Close(); err != nil {
		return err
	}
	batch = nil
	kv.logger.Debug("committed leaf", "view", leaf.View, "commitment", c)
	return nil
}

// LoadLeaf returns the leaf stored under commitment.
func (kv *KVStore) LoadLeaf(commitment types.Commitment) (*types.Leaf, error) {
	bz, err := kv.kvDB.Get(leafKey(commitment))
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, fmt.Errorf("%v: %w", commitment, ErrLeafNotFound)
	}
	leaf := new(types.Leaf)
	if err := tmjson.Unmarshal(bz, leaf); err != nil {
		return nil, fmt.Errorf("unmarshal leaf %v: %w", commitment, err)
	}
	return leaf, nil
}

// LoadLeafByView returns the decided leaf of view.
func (kv *KVStore) LoadLeafByView(view types.View) (*types.Leaf, error) {
	bz, err := kv.kvDB.Get(viewKey(view))
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, fmt.Errorf("%v: %w", view, ErrLeafNotFound)
	}
	return kv.LoadLeaf(types.CommitmentFromBytes(bz))
}

// LoadLatestLeaf returns the decided leaf with the highest view.
func (kv *KVStore) LoadLatestLeaf() (*types.Leaf, error) {
	bz, err := kv.kvDB.Get([]byte(keyLatest))
	if err != nil {
		return nil, err
	}
	if len(bz) == 0 {
		return nil, ErrLeafNotFound
	}
	return kv.LoadLeaf(types.CommitmentFromBytes(bz))
}

// DecidedViews lists the views with a decided leaf, in ascending order.
func (kv *KVStore) DecidedViews() ([]types.View, error) {
	ite, err := iteratePrefix(kv.kvDB, []byte(prefixView))
	if err != nil {
		return nil, err
	}
	defer ite.Close()

	var views []types.View
	for ; ite.Valid(); ite.Next() {
		key := ite.Key()[len(prefixView):]
		views = append(views, types.View(binary.BigEndian.Uint64(key)))
	}
	return views, ite.Error()
}

func (kv *KVStore) GetDB() tmdb.DB {
	return kv.kvDB
}

func (kv *KVStore) Close() error {
	return kv.kvDB.Close()
}

func leafKey(c types.Commitment) []byte {
	return append([]byte(prefixLeaf), c[:]...)
}

func viewKey(view types.View) []byte {
	key := make([]byte, len(prefixView)+8)
	copy(key, prefixView)
	binary.BigEndian.PutUint64(key[len(prefixView):], uint64(view))
	return key
}

// iteratePrefix iterates over every key starting with prefix, in ascending
// order.
func iteratePrefix(db tmdb.DB, prefix []byte) (tmdb.Iterator, error) {
	return db.Iterator(prefix, prefixEnd(prefix))
}

// prefixEnd returns the smallest key greater than every key with prefix,
// or nil if there is none.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
