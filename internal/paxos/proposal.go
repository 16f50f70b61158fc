// =============================================================================
// PROPOSAL NUMBERS - The Foundation of Paxos Ordering
// =============================================================================
//
// A proposal number (ballot) totally orders every attempt to get a value
// chosen for one proposal identifier. It has two parts:
//
//   1. Sequence: a counter the proposer bumps for each new attempt
//   2. NodeID:   the proposer's unique id, used as the tie-breaker
//
// Ordering (ascending):
//
//   (1, "node-a") < (1, "node-b") < (2, "node-a") < (3, "node-a")
//
// The zero value is "no ballot" and sorts below every real ballot, since real
// sequences start at 1.
//
// =============================================================================
// INVARIANT
// =============================================================================
//
// No two proposers ever produce the same ProposalNumber, because node ids are
// unique within a cluster. If two proposers shared a ballot, acceptors could
// not tell their ACCEPTs apart and two values could both look chosen.
//
// =============================================================================

package paxos

import (
	"cmp"
	"fmt"
)

// ProposalNumber is an immutable ballot.
type ProposalNumber struct {
	Sequence int64  `json:"sequence"`
	NodeID   string `json:"nodeId"`
}

func NewProposalNumber(sequence int64, nodeID string) ProposalNumber {
	return ProposalNumber{Sequence: sequence, NodeID: nodeID}
}

// Compare returns -1, 0 or +1 depending on whether a is lower than, equal to or
// higher than b.
func Compare(a, b ProposalNumber) int {
	if c := cmp.Compare(a.Sequence, b.Sequence); c != 0 {
		return c
	}
	return cmp.Compare(a.NodeID, b.NodeID)
}

func (p ProposalNumber) LessThan(other ProposalNumber) bool {
	return Compare(p, other) < 0
}

func (p ProposalNumber) GreaterThan(other ProposalNumber) bool {
	return Compare(p, other) > 0
}

func (p ProposalNumber) Equal(other ProposalNumber) bool {
	return Compare(p, other) == 0
}

func (p ProposalNumber) IsZero() bool {
	return p.Sequence == 0 && p.NodeID == ""
}

// Next returns the smallest ballot owned by nodeID that is strictly higher
// than p.
func (p ProposalNumber) Next(nodeID string) ProposalNumber {
	return ProposalNumber{Sequence: p.Sequence + 1, NodeID: nodeID}
}

func (p ProposalNumber) String() string {
	if p.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%d.%s", p.Sequence, p.NodeID)
}
