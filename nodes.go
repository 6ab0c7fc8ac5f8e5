package nss

import "context"

// NodeStore moves the host's selected objects in and out of a text blob.
// Implementations live in the transfer package.
type NodeStore interface {
	// Snapshot serialises the current selection.
	Snapshot(ctx context.Context) (string, error)
	// Apply materialises a blob produced by Snapshot.
	Apply(ctx context.Context, text string) error
}

// nodesReceived is the reply to an applied node transfer.
const nodesReceived = "Nodes received"
