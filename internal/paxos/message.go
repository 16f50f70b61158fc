// =============================================================================
// PAXOS MESSAGE TYPES
// =============================================================================
//
// Every message that flows between nodes is one immutable Message envelope.
// The Type field says which role handles it on arrival:
//
//   PHASE 1 (PREPARE)
//
//   ┌──────────────┐   PREPARE(N)    ┌──────────────┐
//   │   PROPOSER   │ ───────────────▶│   ACCEPTOR   │
//   │              │◀─────────────── │              │
//   └──────────────┘ COMMIT / REJECT └──────────────┘
//
//   COMMIT is the promise: "I will not accept anything below N". It also
//   reports the highest ballot this acceptor already accepted, and the
//   operation it accepted at that ballot, so the proposer can adopt it.
//   REJECT carries the higher ballot the acceptor already promised.
//
//   PHASE 2 (ACCEPT)
//
//   ┌──────────────┐  ACCEPT(N, op)  ┌──────────────┐  ACCEPTED(N, op)  ┌─────────┐
//   │   PROPOSER   │ ───────────────▶│   ACCEPTOR   │ ─────────────────▶│ LEARNER │
//   └──────────────┘                 └──────────────┘   (every node)    └─────────┘
//
//   There is no negative reply to ACCEPT: a stale ACCEPT is dropped.
//
// =============================================================================

package paxos

import (
	"fmt"

	"github.com/google/uuid"
)

// ProposalID names one consensus round, i.e. one agreed operation. It is not
// the ballot: many ballots may be tried for the same ProposalID.
type ProposalID = uuid.UUID

// NewProposalID returns a fresh random proposal identifier.
func NewProposalID() ProposalID {
	return uuid.New()
}

// ParseProposalID parses the canonical string form of a proposal identifier.
func ParseProposalID(s string) (ProposalID, error) {
	return uuid.Parse(s)
}

type OperationType string

const (
	OpGet    OperationType = "GET"
	OpPut    OperationType = "PUT"
	OpDelete OperationType = "DELETE"
)

func (t OperationType) Valid() bool {
	switch t {
	case OpGet, OpPut, OpDelete:
		return true
	}
	return false
}

// Operation is an immutable description of what to apply to the store. Value
// is empty for GET and DELETE.
type Operation struct {
	Type  OperationType `json:"type"`
	Key   string        `json:"key"`
	Value string        `json:"value,omitempty"`
}

func (o Operation) String() string {
	if o.Type == OpPut {
		return fmt.Sprintf("%s %s=%q", o.Type, o.Key, o.Value)
	}
	return fmt.Sprintf("%s %s", o.Type, o.Key)
}

type MessageType string

const (
	MessagePrepare  MessageType = "PREPARE"
	MessageCommit   MessageType = "COMMIT"
	MessageReject   MessageType = "REJECT"
	MessageAccept   MessageType = "ACCEPT"
	MessageAccepted MessageType = "ACCEPTED"
)

// Message is the envelope for one directed send. Build a new Message per
// target with To; never mutate one after it was sent.
type Message struct {
	ProposalID     ProposalID     `json:"proposalId"`
	Type           MessageType    `json:"type"`
	ProposalNumber ProposalNumber `json:"proposalNumber"`
	From           string         `json:"from"`
	To             string         `json:"to"`
	Operation      Operation      `json:"operation"`

	// AcceptedNumber is set on COMMIT when the acceptor already accepted an
	// operation for this proposal; Operation then holds that operation.
	AcceptedNumber ProposalNumber `json:"acceptedNumber"`

	// RequestNumber is set on REJECT to the ballot being rejected.
	RequestNumber ProposalNumber `json:"requestNumber"`
}

// GetFrom mirrors the accessor every message type exposes to the transport.
func (m Message) GetFrom() string { return m.From }

// WithTarget returns a copy of m addressed to another node.
func (m Message) WithTarget(typ MessageType, from, to string) Message {
	m.Type = typ
	m.From = from
	m.To = to
	return m
}

func (m Message) String() string {
	return fmt.Sprintf("%s{id=%s n=%s %s->%s op=%s}", m.Type, m.ProposalID, m.ProposalNumber, m.From, m.To, m.Operation)
}
