package model

import "errors"

var (
	// ErrReadOnly indicates a mutation was attempted on a read-only node.
	ErrReadOnly = errors.New("node is read-only")
	// ErrStructural indicates a tree-shape precondition was violated.
	ErrStructural = errors.New("structural error")
	// ErrNotFound indicates a node is not where the caller claimed it is.
	ErrNotFound = errors.New("node not found")
	// ErrNameExhausted indicates no unique sibling name could be found.
	ErrNameExhausted = errors.New("cannot create a unique name")
	// ErrUnknownKind indicates a kind name that was never registered.
	ErrUnknownKind = errors.New("unknown model kind")
)
