// =============================================================================
// PROPOSAL CONTEXT - Per-Round State Shared by All Three Roles
// =============================================================================
//
// Each node keeps one ProposalContext per proposal identifier. The proposer,
// acceptor and learner of that node all read and write the same context:
//
//   proposer: largestSequenceNumber, largestProposalNumber, committedNodes,
//             commitConsensus, adopted value, phase
//   acceptor: promisedProposalNumber, acceptedNumber, acceptedOperation
//   learner:  acceptedNodes, acceptedConsensus, finalOperation
//
// Contexts are created on first touch (ContextStore.GetOrCreate), whether that
// is the local proposer starting a round or an acceptor receiving a PREPARE
// for an id it has never seen.
//
// =============================================================================
// INVARIANTS
// =============================================================================
//
// - commitConsensus and acceptedConsensus latch: once true, never false.
// - finalOperation is set at most once.
// - committedNodes is cleared only when a REJECT starts a new ballot.
// - Every check-then-act on a context happens under its mutex, and nothing
//   sends a message while holding it.
//
// =============================================================================

package paxos

import (
	"slices"
	"sync"
	"time"
)

// Phase is the proposer's view of a round.
type Phase int

const (
	PhaseInit Phase = iota
	PhasePrepareSent
	PhaseAcceptSent
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhasePrepareSent:
		return "PREPARE_SENT"
	case PhaseAcceptSent:
		return "ACCEPT_SENT"
	case PhaseDone:
		return "DONE"
	}
	return "UNKNOWN"
}

// voterSet is a set of node ids. Adding the same node twice is a no-op, so
// retried or duplicated messages never inflate a quorum.
type voterSet map[string]struct{}

func (s voterSet) add(nodeID string) { s[nodeID] = struct{}{} }

func (s voterSet) majority(total int) bool { return len(s) > total/2 }

func (s voterSet) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

type ProposalContext struct {
	mu sync.Mutex

	id ProposalID

	largestSequenceNumber  int64
	largestProposalNumber  ProposalNumber
	promisedProposalNumber ProposalNumber

	committedNodes  voterSet
	commitConsensus bool
	adoptedNumber   ProposalNumber
	adoptedOp       Operation
	phase           Phase

	acceptedNumber    ProposalNumber
	acceptedOperation Operation

	acceptedNodes     map[ProposalNumber]voterSet
	acceptedConsensus bool
	finalOperation    *Operation
	decided           chan struct{}
	decidedAt         time.Time

	applied bool
}

func NewProposalContext(id ProposalID) *ProposalContext {
	return &ProposalContext{
		id:             id,
		committedNodes: make(voterSet),
		acceptedNodes:  make(map[ProposalNumber]voterSet),
		decided:        make(chan struct{}),
	}
}

func (c *ProposalContext) ID() ProposalID { return c.id }

func (c *ProposalContext) LargestSequenceNumber() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.largestSequenceNumber
}

func (c *ProposalContext) LargestProposalNumber() ProposalNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.largestProposalNumber
}

func (c *ProposalContext) PromisedProposalNumber() ProposalNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.promisedProposalNumber
}

// SetPromisedProposalNumber overwrites the acceptor's promise. Acceptors go
// through HandlePrepare/HandleAccept; this exists for seeding state.
func (c *ProposalContext) SetPromisedProposalNumber(n ProposalNumber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.promisedProposalNumber = n
}

// CommittedNodes returns the ids that promised the current ballot, sorted.
func (c *ProposalContext) CommittedNodes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committedNodes.sorted()
}

func (c *ProposalContext) AddCommittedNode(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committedNodes.add(nodeID)
}

func (c *ProposalContext) ClearCommittedNodes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committedNodes = make(voterSet)
}

// resetPrepareVotes drops the promises and adopted value gathered for the
// previous ballot. Caller holds c.mu.
func (c *ProposalContext) resetPrepareVotes() {
	c.committedNodes = make(voterSet)
	c.adoptedNumber = ProposalNumber{}
	c.adoptedOp = Operation{}
}

func (c *ProposalContext) AchieveMajorityCommitted(total int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committedNodes.majority(total)
}

// AcceptedNodes returns the ids whose acceptors reported accepting ballot n.
func (c *ProposalContext) AcceptedNodes(n ProposalNumber) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptedNodes[n].sorted()
}

func (c *ProposalContext) AddAcceptedNode(n ProposalNumber, nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addAcceptedNode(n, nodeID)
}

func (c *ProposalContext) AchieveMajorityAccepted(n ProposalNumber, total int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptedNodes[n].majority(total)
}

func (c *ProposalContext) addAcceptedNode(n ProposalNumber, nodeID string) {
	set, ok := c.acceptedNodes[n]
	if !ok {
		set = make(voterSet)
		c.acceptedNodes[n] = set
	}
	set.add(nodeID)
}

func (c *ProposalContext) CommitConsensus() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitConsensus
}

func (c *ProposalContext) AcceptedConsensus() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptedConsensus
}

func (c *ProposalContext) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Accepted returns what this node's acceptor last accepted, if anything.
func (c *ProposalContext) Accepted() (ProposalNumber, Operation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptedNumber, c.acceptedOperation, !c.acceptedNumber.IsZero()
}

// FinalOperation returns the agreed operation once this node's learner has
// seen an acceptance quorum.
func (c *ProposalContext) FinalOperation() (Operation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalOperation == nil {
		return Operation{}, false
	}
	return *c.finalOperation, true
}

// Decided is closed when FinalOperation becomes available.
func (c *ProposalContext) Decided() <-chan struct{} {
	return c.decided
}

// decide records op as final and reports whether this call was the one that
// set it. Callers hold c.mu.
func (c *ProposalContext) decide(op Operation) bool {
	if c.finalOperation != nil {
		return false
	}
	c.acceptedConsensus = true
	c.finalOperation = &op
	c.decidedAt = time.Now()
	c.phase = PhaseDone
	close(c.decided)
	return true
}

// MarkApplied latches the apply-once flag and reports whether the caller is
// the first to apply the final operation on this node.
func (c *ProposalContext) MarkApplied() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.applied {
		return false
	}
	c.applied = true
	return true
}

func (c *ProposalContext) Applied() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied
}

func (c *ProposalContext) expired(now time.Time, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalOperation != nil && now.Sub(c.decidedAt) >= ttl
}

// =============================================================================
// CONTEXT STORE
// =============================================================================

// ContextStore maps proposal ids to contexts for one node. Lookups of
// different ids never contend on anything but the map's RWMutex.
type ContextStore struct {
	mu       sync.RWMutex
	contexts map[ProposalID]*ProposalContext
}

func NewContextStore() *ContextStore {
	return &ContextStore{contexts: make(map[ProposalID]*ProposalContext)}
}

func (s *ContextStore) Get(id ProposalID) (*ProposalContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[id]
	return c, ok
}

// GetOrCreate returns the context for id, creating an empty one on first
// touch.
func (s *ContextStore) GetOrCreate(id ProposalID) *ProposalContext {
	if c, ok := s.Get(id); ok {
		return c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contexts[id]; ok {
		return c
	}
	c := NewProposalContext(id)
	s.contexts[id] = c
	return c
}

// Put installs c under id, replacing any existing context.
func (s *ContextStore) Put(id ProposalID, c *ProposalContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[id] = c
}

func (s *ContextStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contexts)
}

// EvictDecided drops contexts whose final operation was set at least ttl ago
// and returns how many were removed. Undecided contexts are kept.
func (s *ContextStore) EvictDecided(now time.Time, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.contexts {
		if c.expired(now, ttl) {
			delete(s.contexts, id)
			n++
		}
	}
	return n
}
