package state

import "vidbft/types"

// Store persists decided leaves.
type Store interface {
	CommitLeaf(leaf *types.Leaf) error

	LoadLeaf(commitment types.Commitment) (*types.Leaf, error)
}
