// =============================================================================
// ACCEPTOR - The Safety Guardian of Paxos
// =============================================================================
//
// RULE 1: PROMISE RULE
//         PREPARE(N) is promised (COMMIT) only if N is higher than every
//         ballot promised before. Otherwise the acceptor replies REJECT with
//         the ballot it already promised, so the proposer knows what to beat.
//
// RULE 2: ACCEPTANCE RULE
//         ACCEPT(N, op) is accepted if N is at least the promised ballot.
//         The acceptor remembers (N, op) and reports it in later COMMITs.
//         A stale ACCEPT is dropped without a reply.
//
// On accepting, the acceptor tells every learner in the cluster (itself
// first) with ACCEPTED. That fan-out is best effort: one unreachable learner
// does not stop the others from hearing about it.
//
// Both handlers may fail on purpose (FailureInjector). The failure surfaces to
// the sender as an error from SendMessage, indistinguishable from a network
// failure.
//
// =============================================================================

package paxos

import (
	"context"
)

type Acceptor struct {
	host     Host
	contexts *ContextStore
	failer   *FailureInjector
}

func NewAcceptor(host Host, contexts *ContextStore, failer *FailureInjector) *Acceptor {
	return &Acceptor{
		host:     host,
		contexts: contexts,
		failer:   failer,
	}
}

func (a *Acceptor) HandlePrepare(ctx context.Context, req Message) error {
	self := a.host.ID()
	log.Debugf("[%s] acceptor: received %s", self, req)

	if err := a.failer.MaybeFail(); err != nil {
		log.Infof("[%s] acceptor: failing PREPARE from %s: %v", self, req.From, err)
		return err
	}

	c := a.contexts.GetOrCreate(req.ProposalID)

	c.mu.Lock()
	var reply Message
	if c.promisedProposalNumber.IsZero() || req.ProposalNumber.GreaterThan(c.promisedProposalNumber) {
		c.promisedProposalNumber = req.ProposalNumber
		reply = req.WithTarget(MessageCommit, self, req.From)
		if !c.acceptedNumber.IsZero() {
			reply.AcceptedNumber = c.acceptedNumber
			reply.Operation = c.acceptedOperation
		}
	} else {
		reply = req.WithTarget(MessageReject, self, req.From)
		reply.ProposalNumber = c.promisedProposalNumber
		reply.RequestNumber = req.ProposalNumber
	}
	c.mu.Unlock()

	log.Debugf("[%s] acceptor: replying %s", self, reply)
	return a.host.SendMessage(ctx, reply)
}

func (a *Acceptor) HandleAccept(ctx context.Context, req Message) error {
	self := a.host.ID()
	log.Debugf("[%s] acceptor: received %s", self, req)

	if err := a.failer.MaybeFail(); err != nil {
		log.Infof("[%s] acceptor: failing ACCEPT from %s: %v", self, req.From, err)
		return err
	}

	c := a.contexts.GetOrCreate(req.ProposalID)

	c.mu.Lock()
	ok := c.promisedProposalNumber.IsZero() || !req.ProposalNumber.LessThan(c.promisedProposalNumber)
	if ok {
		c.promisedProposalNumber = req.ProposalNumber
		c.acceptedNumber = req.ProposalNumber
		c.acceptedOperation = req.Operation
	}
	promised := c.promisedProposalNumber
	c.mu.Unlock()

	if !ok {
		log.Debugf("[%s] acceptor: dropping stale ACCEPT %s, promised %s", self, req.ProposalNumber, promised)
		return nil
	}

	log.Infof("[%s] acceptor: accepted %s at %s", self, req.Operation, req.ProposalNumber)
	a.notifyLearners(ctx, req)
	return nil
}

func (a *Acceptor) notifyLearners(ctx context.Context, accepted Message) {
	self := a.host.ID()
	targets := append([]string{self}, a.host.OtherNodes()...)
	for _, to := range targets {
		note := accepted.WithTarget(MessageAccepted, self, to)
		if err := a.host.SendMessage(ctx, note); err != nil {
			log.Warnf("[%s] acceptor: ACCEPTED to learner %s failed: %v", self, to, err)
		}
	}
}
