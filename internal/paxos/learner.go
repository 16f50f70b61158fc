// =============================================================================
// LEARNER - The Observer of Paxos Consensus
// =============================================================================
//
// Every acceptor that accepts (N, op) sends ACCEPTED to every learner. A
// learner counts, per ballot, the distinct acceptors that reported it. When
// one ballot has a majority, its operation is chosen and becomes the
// context's final operation.
//
// Counting per ballot matters: acceptances of different ballots must never be
// added together, or two halves of the cluster accepting different operations
// could look like one majority.
//
// =============================================================================
// INVARIANT
// =============================================================================
//
// The final operation is set once. Later notifications only grow an already
// satisfied set and never replace it.
//
// =============================================================================

package paxos

import (
	"context"
)

// DecideFunc is called once per context, outside any lock, when the learner
// sets the final operation. ctx is the one the deciding notification arrived
// with.
type DecideFunc func(ctx context.Context, id ProposalID, op Operation)

type Learner struct {
	host     Host
	contexts *ContextStore
	onDecide DecideFunc
}

func NewLearner(host Host, contexts *ContextStore, onDecide DecideFunc) *Learner {
	return &Learner{
		host:     host,
		contexts: contexts,
		onDecide: onDecide,
	}
}

func (l *Learner) HandleAcceptedNotification(ctx context.Context, note Message) {
	self := l.host.ID()
	log.Debugf("[%s] learner: received %s", self, note)

	c := l.contexts.GetOrCreate(note.ProposalID)
	total := clusterSize(l.host)

	c.mu.Lock()
	c.addAcceptedNode(note.ProposalNumber, note.From)
	decided := false
	if c.finalOperation == nil && c.acceptedNodes[note.ProposalNumber].majority(total) {
		decided = c.decide(note.Operation)
	}
	c.mu.Unlock()

	if !decided {
		return
	}
	log.Infof("[%s] learner: %s chosen for %s at %s", self, note.Operation, note.ProposalID, note.ProposalNumber)
	if l.onDecide != nil {
		l.onDecide(ctx, note.ProposalID, note.Operation)
	}
}
