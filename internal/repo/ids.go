package repo

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGen issues time-ordered request ids. One node per process; run each
// replica with a distinct NODE_ID.
type IDGen struct {
	node *snowflake.Node
}

// NewIDGen creates a generator for the given node number [0..1023].
func NewIDGen(nodeID int64) (*IDGen, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &IDGen{node: node}, nil
}

// Next returns a fresh id.
func (g *IDGen) Next() int64 { return g.node.Generate().Int64() }
