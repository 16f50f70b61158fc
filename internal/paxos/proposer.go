// =============================================================================
// PROPOSER - The Driver of Paxos Rounds
// =============================================================================
//
// A round, from this proposer's point of view:
//
//   INIT ──InitiateProposal──▶ PREPARE_SENT ──quorum of COMMIT──▶ ACCEPT_SENT
//                                 ▲      │                            │
//                                 └──────┘                            │
//                            REJECT: bump ballot,             learner sees quorum
//                            clear committedNodes,            of ACCEPTED
//                            PREPARE again                        ▼
//                                                               DONE
//
// There is no abort state. A round that never reaches quorum is ended by the
// caller's context deadline.
//
// Messages are delivered synchronously, so a PREPARE send runs the target
// acceptor, which sends COMMIT back into HandleCommitReply, which may start
// the ACCEPT phase, all before the original send returns.
//
// =============================================================================
// VALUE ADOPTION
// =============================================================================
//
// A COMMIT reports the highest ballot the acceptor already accepted and the
// operation accepted with it. Among the COMMITs for the current ballot the
// proposer adopts the operation with the highest accepted ballot, and only
// proposes its own operation when none was accepted. This is what keeps a
// second proposer from overwriting a value that may already be chosen.
//
// =============================================================================

package paxos

import (
	"context"
	"math/rand/v2"
	"time"
)

type ProposerOptions struct {
	// MaxRetries is the number of delivery attempts per PREPARE/ACCEPT send.
	MaxRetries int
	// RejectBackoff bounds the random pause before a PREPARE restart.
	RejectBackoff time.Duration
}

type Proposer struct {
	host     Host
	contexts *ContextStore
	opts     ProposerOptions
}

func NewProposer(host Host, contexts *ContextStore, opts ProposerOptions) *Proposer {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	return &Proposer{
		host:     host,
		contexts: contexts,
		opts:     opts,
	}
}

// InitiateProposal allocates the next local ballot for id and returns the
// PREPARE that starts the round. Peers create their own context for id when
// the PREPARE reaches them.
func (p *Proposer) InitiateProposal(id ProposalID, opType OperationType, key, value string) Message {
	self := p.host.ID()
	c := p.contexts.GetOrCreate(id)

	c.mu.Lock()
	c.largestSequenceNumber++
	n := NewProposalNumber(c.largestSequenceNumber, self)
	c.largestProposalNumber = n
	if c.finalOperation == nil {
		c.phase = PhaseInit
		if !c.commitConsensus {
			// Promises and accepted values reported for an earlier ballot
			// do not count toward this one.
			c.resetPrepareVotes()
		}
	}
	c.mu.Unlock()

	req := Message{
		ProposalID:     id,
		Type:           MessagePrepare,
		ProposalNumber: n,
		From:           self,
		Operation:      Operation{Type: opType, Key: key, Value: value},
	}
	log.Infof("[%s] proposer: initiated %s", self, req)
	return req
}

// SendPrepareRequests sends req to this node's acceptor and then to each
// peer, stopping early once the round no longer needs more promises.
func (p *Proposer) SendPrepareRequests(ctx context.Context, req Message) {
	c := p.contexts.GetOrCreate(req.ProposalID)

	c.mu.Lock()
	if !c.commitConsensus && c.finalOperation == nil {
		c.phase = PhasePrepareSent
	}
	c.mu.Unlock()

	p.sendRequestWithRetries(ctx, req, MessagePrepare, p.host.ID())
	for _, peer := range p.host.OtherNodes() {
		if p.prepareSettled(c, req.ProposalNumber) || ctx.Err() != nil {
			return
		}
		p.sendRequestWithRetries(ctx, req, MessagePrepare, peer)
	}
}

// prepareSettled reports whether sending PREPARE at ballot n to more peers is
// pointless: promises already reached quorum, the value is known, or a REJECT
// moved the round to a higher ballot.
func (p *Proposer) prepareSettled(c *ProposalContext, n ProposalNumber) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitConsensus || c.finalOperation != nil || c.largestProposalNumber.GreaterThan(n)
}

// SendAcceptRequests sends req only to the acceptors that promised the
// current ballot.
func (p *Proposer) SendAcceptRequests(ctx context.Context, req Message) {
	c := p.contexts.GetOrCreate(req.ProposalID)
	for _, target := range c.CommittedNodes() {
		if ctx.Err() != nil {
			return
		}
		p.sendRequestWithRetries(ctx, req, MessageAccept, target)
	}
}

func (p *Proposer) HandleCommitReply(ctx context.Context, reply Message) {
	self := p.host.ID()
	log.Debugf("[%s] proposer: received %s", self, reply)

	c := p.contexts.GetOrCreate(reply.ProposalID)
	total := clusterSize(p.host)

	c.mu.Lock()
	if c.commitConsensus {
		c.mu.Unlock()
		log.Debugf("[%s] proposer: ignoring COMMIT from %s, commit quorum already reached", self, reply.From)
		return
	}
	if reply.ProposalNumber.GreaterThan(c.largestProposalNumber) {
		c.largestProposalNumber = reply.ProposalNumber
		c.resetPrepareVotes()
	}
	if reply.ProposalNumber.LessThan(c.largestProposalNumber) {
		current := c.largestProposalNumber
		c.mu.Unlock()
		log.Debugf("[%s] proposer: ignoring COMMIT for %s, round is at %s", self, reply.ProposalNumber, current)
		return
	}

	c.committedNodes.add(reply.From)
	if !reply.AcceptedNumber.IsZero() && reply.AcceptedNumber.GreaterThan(c.adoptedNumber) {
		c.adoptedNumber = reply.AcceptedNumber
		c.adoptedOp = reply.Operation
	}
	if !c.committedNodes.majority(total) {
		c.mu.Unlock()
		return
	}

	c.commitConsensus = true
	if c.finalOperation == nil {
		c.phase = PhaseAcceptSent
	}
	accept := Message{
		ProposalID:     reply.ProposalID,
		Type:           MessageAccept,
		ProposalNumber: c.largestProposalNumber,
		From:           self,
		Operation:      reply.Operation,
	}
	if !c.adoptedNumber.IsZero() {
		accept.Operation = c.adoptedOp
	}
	c.mu.Unlock()

	log.Infof("[%s] proposer: commit quorum for %s at %s, sending ACCEPT %s", self, reply.ProposalID, accept.ProposalNumber, accept.Operation)
	p.SendAcceptRequests(ctx, accept)
}

func (p *Proposer) HandleRejectReply(ctx context.Context, reply Message) {
	self := p.host.ID()
	log.Debugf("[%s] proposer: received %s", self, reply)

	c := p.contexts.GetOrCreate(reply.ProposalID)

	c.mu.Lock()
	if c.commitConsensus || c.finalOperation != nil {
		c.mu.Unlock()
		log.Debugf("[%s] proposer: ignoring REJECT from %s, round already settled", self, reply.From)
		return
	}
	if !reply.RequestNumber.IsZero() && reply.RequestNumber.LessThan(c.largestProposalNumber) {
		current := c.largestProposalNumber
		c.mu.Unlock()
		log.Debugf("[%s] proposer: ignoring REJECT of %s, round is at %s", self, reply.RequestNumber, current)
		return
	}

	c.resetPrepareVotes()

	next := reply.ProposalNumber.Next(self)
	if c.largestSequenceNumber >= next.Sequence {
		next = NewProposalNumber(c.largestSequenceNumber, self).Next(self)
	}
	c.largestSequenceNumber = next.Sequence
	c.largestProposalNumber = next
	c.phase = PhasePrepareSent
	c.mu.Unlock()

	log.Infof("[%s] proposer: %s promised %s, restarting %s at %s", self, reply.From, reply.ProposalNumber, reply.ProposalID, next)

	if !p.backoff(ctx) {
		return
	}
	prepare := Message{
		ProposalID:     reply.ProposalID,
		Type:           MessagePrepare,
		ProposalNumber: next,
		From:           self,
		Operation:      reply.Operation,
	}
	p.SendPrepareRequests(ctx, prepare)
}

func (p *Proposer) backoff(ctx context.Context) bool {
	if p.opts.RejectBackoff <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(rand.N(p.opts.RejectBackoff))
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// sendRequestWithRetries delivers req as typ to target, trying up to
// MaxRetries times. After the last failure the request is dropped.
func (p *Proposer) sendRequestWithRetries(ctx context.Context, req Message, typ MessageType, target string) bool {
	self := p.host.ID()
	msg := req.WithTarget(typ, self, target)
	for attempt := 1; attempt <= p.opts.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		err := p.host.SendMessage(ctx, msg)
		if err == nil {
			return true
		}
		log.Warnf("[%s] proposer: %s to %s failed (attempt %d/%d): %v", self, typ, target, attempt, p.opts.MaxRetries, err)
	}
	log.Warnf("[%s] proposer: giving up on %s to %s after %d attempts", self, typ, target, p.opts.MaxRetries)
	return false
}
