package state

import (
	"errors"
	"fmt"
	"sync"

	"vidbft/types"
)

var (
	ErrMissingParentView = errors.New("no ledger entry for the high certificate's view")
	ErrViewWithoutLeaf   = errors.New("ledger entry for the high certificate's view holds no leaf")
	ErrMissingLeaf       = errors.New("leaf commitment not found among saved leaves")
)

// ViewInnerKind says how much the ledger knows about a view.
type ViewInnerKind uint8

const (
	// DAEntry: only the payload commitment is known.
	DAEntry = ViewInnerKind(1)
	// LeafEntry: a full leaf was saved for the view.
	LeafEntry = ViewInnerKind(2)
)

func (k ViewInnerKind) String() string {
	switch k {
	case DAEntry:
		return "DA"
	case LeafEntry:
		return "Leaf"
	default:
		return "Unknown"
	}
}

// ViewInner is one entry of the view map.
type ViewInner struct {
	Kind ViewInnerKind `json:"kind"`
	// payload commitment of a DA entry
	BlockCommitment types.Commitment `json:"block_commitment"`
	// commitment of the saved leaf of a Leaf entry
	LeafCommitment types.Commitment `json:"leaf_commitment"`
}

func NewDAEntry(payload types.Commitment) ViewInner {
	return ViewInner{Kind: DAEntry, BlockCommitment: payload}
}

func NewLeafEntry(leaf *types.Leaf) ViewInner {
	return ViewInner{
		Kind:            LeafEntry,
		BlockCommitment: leaf.Payload.PayloadCommitment,
		LeafCommitment:  leaf.Commit(),
	}
}

// richerThan reports whether e carries strictly more than other.
func (e ViewInner) richerThan(other ViewInner) bool {
	return e.Kind == LeafEntry && other.Kind != LeafEntry
}

// LedgerState 是各阶段任务共享的共识账本
//
// It holds the view map, every leaf kept for parent lookups and the highest
// certificate observed. Readers share the lock, writers hold it exclusively,
// and nothing blocks while holding it: callers always get copies.
type LedgerState struct {
	mtx sync.RWMutex

	ChainID string

	viewMap     map[types.View]ViewInner
	savedLeaves map[types.Commitment]*types.Leaf
	highCert    *types.Certificate

	lastDecidedView types.View

	// optional persistence of decided leaves
	store Store
}

// MakeGenesisState returns a ledger holding only the genesis leaf, justified
// by the genesis certificate.
func MakeGenesisState(chainID string) *LedgerState {
	genesis := types.GenesisLeaf()
	state := &LedgerState{
		ChainID:     chainID,
		viewMap:     make(map[types.View]ViewInner),
		savedLeaves: make(map[types.Commitment]*types.Leaf),
		highCert:    types.GenesisCertificate(types.QuorumVote),
	}
	state.viewMap[types.ViewZero] = NewLeafEntry(genesis)
	state.savedLeaves[genesis.Commit()] = genesis
	return state
}

// SetStore makes the ledger persist decided leaves.
func (state *LedgerState) SetStore(store Store) {
	state.mtx.Lock()
	defer state.mtx.Unlock()
	state.store = store
}

// GetEntry returns the entry recorded for view.
func (state *LedgerState) GetEntry(view types.View) (ViewInner, bool) {
	state.mtx.RLock()
	defer state.mtx.RUnlock()
	e, ok := state.viewMap[view]
	return e, ok
}

// InsertIfAbsentOrRicher records entry for view unless the view already
// holds an entry at least as rich. A DA entry never replaces a Leaf entry.
// It returns true if the map changed.
func (state *LedgerState) InsertIfAbsentOrRicher(view types.View, entry ViewInner) bool {
	state.mtx.Lock()
	defer state.mtx.Unlock()
	return state.insertIfAbsentOrRicher(view, entry)
}

func (state *LedgerState) insertIfAbsentOrRicher(view types.View, entry ViewInner) bool {
	existing, ok := state.viewMap[view]
	if ok && !entry.richerThan(existing) {
		return false
	}
	state.viewMap[view] = entry
	return true
}

// GetLeaf returns a copy of the saved leaf with the given commitment.
func (state *LedgerState) GetLeaf(commitment types.Commitment) (*types.Leaf, bool) {
	state.mtx.RLock()
	defer state.mtx.RUnlock()
	leaf, ok := state.savedLeaves[commitment]
	if !ok {
		return nil, false
	}
	return leaf.Copy(), true
}

// SaveLeaf keeps a copy of leaf and upgrades its view's entry to a Leaf entry.
func (state *LedgerState) SaveLeaf(leaf *types.Leaf) types.Commitment {
	state.mtx.Lock()
	defer state.mtx.Unlock()
	c := leaf.Commit()
	state.savedLeaves[c] = leaf.Copy()
	state.insertIfAbsentOrRicher(leaf.View, NewLeafEntry(leaf))
	return c
}

// HighCertificate returns a copy of the highest certificate seen so far.
func (state *LedgerState) HighCertificate() *types.Certificate {
	state.mtx.RLock()
	defer state.mtx.RUnlock()
	return state.highCert.Copy()
}

// UpdateHighCertificate replaces the high certificate if cert is for a
// higher view. It returns true if it did.
func (state *LedgerState) UpdateHighCertificate(cert *types.Certificate) bool {
	state.mtx.Lock()
	defer state.mtx.Unlock()
	if cert == nil || cert.View <= state.highCert.View {
		return false
	}
	state.highCert = cert.Copy()
	return true
}

// ParentLeaf walks from the high certificate's view to the leaf a new
// proposal must extend.
func (state *LedgerState) ParentLeaf() (*types.Leaf, error) {
	state.mtx.RLock()
	defer state.mtx.RUnlock()

	view := state.highCert.View
	entry, ok := state.viewMap[view]
	if !ok {
		return nil, fmt.Errorf("view %v: %w", view, ErrMissingParentView)
	}
	if entry.Kind != LeafEntry {
		return nil, fmt.Errorf("view %v: %w", view, ErrViewWithoutLeaf)
	}
	leaf, ok := state.savedLeaves[entry.LeafCommitment]
	if !ok {
		return nil, fmt.Errorf("leaf %v: %w", entry.LeafCommitment, ErrMissingLeaf)
	}
	return leaf.Copy(), nil
}

// DecideLeaf saves leaf, raises the high certificate to cert and marks the
// leaf's view as decided. The leaf is persisted after the lock is released.
// It returns false if the view was already decided.
func (state *LedgerState) DecideLeaf(leaf *types.Leaf, cert *types.Certificate) (bool, error) {
	state.mtx.Lock()
	if leaf.View <= state.lastDecidedView {
		state.mtx.Unlock()
		return false, nil
	}
	c := leaf.Commit()
	state.savedLeaves[c] = leaf.Copy()
	state.insertIfAbsentOrRicher(leaf.View, NewLeafEntry(leaf))
	if cert != nil && cert.View > state.highCert.View {
		state.highCert = cert.Copy()
	}
	state.lastDecidedView = leaf.View
	store := state.store
	state.mtx.Unlock()

	if store != nil {
		if err := store.CommitLeaf(leaf); err != nil {
			return true, err
		}
	}
	return true, nil
}

// LastDecidedView returns the view of the newest decided leaf.
func (state *LedgerState) LastDecidedView() types.View {
	state.mtx.RLock()
	defer state.mtx.RUnlock()
	return state.lastDecidedView
}

// Prune drops view entries and saved leaves older than view. The leaf behind
// the high certificate is always kept.
func (state *LedgerState) Prune(view types.View) int {
	state.mtx.Lock()
	defer state.mtx.Unlock()

	keep := types.Commitment{}
	if e, ok := state.viewMap[state.highCert.View]; ok && e.Kind == LeafEntry {
		keep = e.LeafCommitment
	}

	pruned := 0
	for v := range state.viewMap {
		if v < view && v != state.highCert.View {
			delete(state.viewMap, v)
			pruned++
		}
	}
	for c, leaf := range state.savedLeaves {
		if leaf.View < view && c != keep {
			delete(state.savedLeaves, c)
		}
	}
	return pruned
}

// Size returns the number of view entries and saved leaves.
func (state *LedgerState) Size() (views int, leaves int) {
	state.mtx.RLock()
	defer state.mtx.RUnlock()
	return len(state.viewMap), len(state.savedLeaves)
}
