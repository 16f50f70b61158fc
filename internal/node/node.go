// =============================================================================
// NODE - Wiring All Paxos Roles Together
// =============================================================================
//
// A Node plays all three roles and owns the state they share:
//
//   ┌─────────────────────────────────────────────────────────┐
//   │                         NODE                            │
//   │  ┌───────────┐  ┌───────────┐  ┌───────────┐            │
//   │  │ PROPOSER  │  │ ACCEPTOR  │  │  LEARNER  │            │
//   │  └─────┬─────┘  └─────┬─────┘  └─────┬─────┘            │
//   │        └──────────────┼──────────────┘                  │
//   │                ┌──────┴───────┐                         │
//   │                │ ContextStore │   one context per       │
//   │                └──────────────┘   proposal id           │
//   │  ┌───────────┐  ┌────────────┐  ┌───────────┐           │
//   │  │ TRANSPORT │  │   STORE    │  │   LOCKS   │           │
//   │  └───────────┘  └────────────┘  └───────────┘           │
//   └─────────────────────────────────────────────────────────┘
//
// MESSAGE ROUTING (ReceiveMessage)
//
//   PREPARE  → acceptor.HandlePrepare
//   COMMIT   → proposer.HandleCommitReply
//   REJECT   → proposer.HandleRejectReply
//   ACCEPT   → acceptor.HandleAccept
//   ACCEPTED → learner.HandleAcceptedNotification
//
// CONSENSUS (Consensus)
//
//   1. run the PREPARE/ACCEPT phases on a separate goroutine
//   2. read the context's final operation (waiting up to LearnWait for it)
//   3. none: report OutcomeIndeterminate, store untouched
//   4. some: lock the key, apply, unlock
//
// The whole sequence is bounded by ConsensusTimeout. Every learner also
// applies a decided operation locally, so replicas that did not propose still
// converge; the apply-once latch in the context makes the two paths safe.
//
// =============================================================================

package node

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/senutpal/quorumkv/internal/config"
	"github.com/senutpal/quorumkv/internal/lock"
	"github.com/senutpal/quorumkv/internal/paxos"
	"github.com/senutpal/quorumkv/internal/storage"
	"github.com/senutpal/quorumkv/internal/transport"
)

var log = logging.Logger("node")

var (
	ErrLockTimeout      = errors.New("timed out acquiring key lock")
	ErrConsensusTimeout = errors.New("consensus timed out")
	ErrUnknownMessage   = errors.New("unknown message type")
)

// Outcome tells a caller whether its operation is known to have been applied.
type Outcome int

const (
	// OutcomeIndeterminate means no agreed operation was observed locally.
	// The operation may or may not take effect elsewhere.
	OutcomeIndeterminate Outcome = iota
	OutcomeApplied
)

func (o Outcome) String() string {
	if o == OutcomeApplied {
		return "applied"
	}
	return "indeterminate"
}

type Result struct {
	Outcome Outcome
	// Operation is the agreed operation, which can differ from the one
	// requested when the proposal id was already decided.
	Operation paxos.Operation
}

type Node struct {
	id  string
	cfg config.Config

	mu         sync.RWMutex
	otherNodes []string

	contexts *paxos.ContextStore
	store    storage.Store
	locks    *lock.Manager
	network  transport.Network

	proposer *paxos.Proposer
	acceptor *paxos.Acceptor
	learner  *paxos.Learner

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewNode builds a node from cfg. Peers come from cfg.Peers; only their ids
// matter here, network knows how to reach them.
func NewNode(cfg config.Config, network transport.Network, store storage.Store) *Node {
	n := &Node{
		id:         cfg.NodeID,
		cfg:        cfg,
		otherNodes: cfg.PeerIDs(),
		contexts:   paxos.NewContextStore(),
		store:      store,
		locks:      lock.NewManager(),
		network:    network,
		stopCh:     make(chan struct{}),
	}
	n.proposer = paxos.NewProposer(n, n.contexts, paxos.ProposerOptions{
		MaxRetries:    cfg.MaxRetries,
		RejectBackoff: cfg.RejectBackoff,
	})
	n.acceptor = paxos.NewAcceptor(n, n.contexts, paxos.NewFailureInjector(cfg.FailureRate))
	n.learner = paxos.NewLearner(n, n.contexts, n.onDecide)
	return n
}

// Start launches the janitor that evicts decided proposal contexts.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return nil
	}
	n.running = true
	n.stopCh = make(chan struct{})
	if n.cfg.JanitorInterval > 0 {
		n.wg.Add(1)
		go n.evictLoop(n.stopCh)
	}
	return nil
}

func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	close(n.stopCh)
	n.mu.Unlock()
	n.wg.Wait()
	return nil
}

func (n *Node) evictLoop(stop <-chan struct{}) {
	defer n.wg.Done()
	t := time.NewTicker(n.cfg.JanitorInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			if evicted := n.contexts.EvictDecided(now, n.cfg.ContextTTL); evicted > 0 {
				log.Debugf("[%s] evicted %d decided proposal contexts", n.id, evicted)
			}
		}
	}
}

func (n *Node) ID() string {
	return n.id
}

func (n *Node) OtherNodes() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.otherNodes)
}

func (n *Node) SetOtherNodes(ids []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.otherNodes = slices.Clone(ids)
}

func (n *Node) ContextStore() *paxos.ContextStore {
	return n.contexts
}

func (n *Node) UpdateContextStore(id paxos.ProposalID, c *paxos.ProposalContext) {
	n.contexts.Put(id, c)
}

// SendMessage delivers msg to msg.To, short-circuiting messages to self.
func (n *Node) SendMessage(ctx context.Context, msg paxos.Message) error {
	if msg.To == n.id {
		return n.ReceiveMessage(ctx, msg)
	}
	return n.network.Send(ctx, msg)
}

func (n *Node) ReceiveMessage(ctx context.Context, msg paxos.Message) error {
	switch msg.Type {
	case paxos.MessagePrepare:
		return n.acceptor.HandlePrepare(ctx, msg)
	case paxos.MessageCommit:
		n.proposer.HandleCommitReply(ctx, msg)
	case paxos.MessageReject:
		n.proposer.HandleRejectReply(ctx, msg)
	case paxos.MessageAccept:
		return n.acceptor.HandleAccept(ctx, msg)
	case paxos.MessageAccepted:
		n.learner.HandleAcceptedNotification(ctx, msg)
	default:
		log.Warnf("[%s] dropping message of unknown type %q from %s", n.id, msg.Type, msg.From)
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
	return nil
}

// =============================================================================
// CLIENT OPERATIONS
// =============================================================================

func (n *Node) HandlePut(ctx context.Context, id paxos.ProposalID, key, value string) (string, error) {
	req := n.proposer.InitiateProposal(id, paxos.OpPut, key, value)
	res, err := n.Consensus(ctx, req)
	if err != nil {
		return "", fmt.Errorf("PUT %s %s: %w", key, value, err)
	}
	return status(req.Operation, res), nil
}

func (n *Node) HandleDelete(ctx context.Context, id paxos.ProposalID, key string) (string, error) {
	req := n.proposer.InitiateProposal(id, paxos.OpDelete, key, "")
	res, err := n.Consensus(ctx, req)
	if err != nil {
		return "", fmt.Errorf("DELETE %s: %w", key, err)
	}
	return status(req.Operation, res), nil
}

// HandleGet reads the local replica without consensus; it may be stale.
func (n *Node) HandleGet(key string) (string, error) {
	v, ok, err := n.store.Get(key)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", key, err)
	}
	if !ok {
		return fmt.Sprintf("Succeed to perform GET %s: Key not found", key), nil
	}
	return fmt.Sprintf("Succeed to perform GET %s: %s", key, v), nil
}

// Get is HandleGet without the status text.
func (n *Node) Get(key string) (string, bool, error) {
	return n.store.Get(key)
}

func (n *Node) GetAll() ([]string, error) {
	return n.store.All()
}

func status(requested paxos.Operation, res Result) string {
	switch {
	case res.Outcome != OutcomeApplied:
		return fmt.Sprintf("%s may not have taken effect: no consensus observed", requested)
	case res.Operation != requested:
		return fmt.Sprintf("Proposal already decided as %s", res.Operation)
	case requested.Type == paxos.OpPut:
		return fmt.Sprintf("Succeed to perform PUT %s %s", requested.Key, requested.Value)
	default:
		return fmt.Sprintf("Succeed to perform %s %s", requested.Type, requested.Key)
	}
}

// =============================================================================
// CONSENSUS
// =============================================================================

type consensusResult struct {
	res Result
	err error
}

// Consensus runs req (a PREPARE from InitiateProposal) to completion and
// applies the agreed operation. It returns OutcomeIndeterminate with a nil
// error when no decision was observed, ErrLockTimeout when the key lock
// could not be taken, and ErrConsensusTimeout when the whole call ran past
// ConsensusTimeout.
func (n *Node) Consensus(ctx context.Context, req paxos.Message) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.ConsensusTimeout)
	defer cancel()

	done := make(chan consensusResult, 1)
	go func() {
		res, err := n.runConsensus(ctx, req)
		done <- consensusResult{res: res, err: err}
	}()

	select {
	case r := <-done:
		return r.res, r.err
	case <-ctx.Done():
		log.Warnf("[%s] consensus for %s abandoned: %v", n.id, req.ProposalID, ctx.Err())
		return Result{}, n.abandoned(ctx, req.ProposalID)
	}
}

func (n *Node) abandoned(ctx context.Context, id paxos.ProposalID) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: proposal %s after %s", ErrConsensusTimeout, id, n.cfg.ConsensusTimeout)
	}
	return ctx.Err()
}

func (n *Node) runConsensus(ctx context.Context, req paxos.Message) (Result, error) {
	pc := n.contexts.GetOrCreate(req.ProposalID)
	n.proposer.SendPrepareRequests(ctx, req)

	op, ok := n.awaitDecision(ctx, pc)
	if !ok {
		if ctx.Err() != nil {
			return Result{}, n.abandoned(ctx, req.ProposalID)
		}
		log.Warnf("[%s] no final operation for %s, leaving the store untouched", n.id, req.ProposalID)
		return Result{Outcome: OutcomeIndeterminate}, nil
	}
	log.Infof("[%s] final operation for %s: %s", n.id, req.ProposalID, op)

	if err := n.apply(ctx, pc, op); err != nil {
		return Result{Outcome: OutcomeIndeterminate, Operation: op}, err
	}
	return Result{Outcome: OutcomeApplied, Operation: op}, nil
}

func (n *Node) awaitDecision(ctx context.Context, pc *paxos.ProposalContext) (paxos.Operation, bool) {
	select {
	case <-pc.Decided():
		return pc.FinalOperation()
	default:
	}
	if n.cfg.LearnWait <= 0 {
		return paxos.Operation{}, false
	}
	t := time.NewTimer(n.cfg.LearnWait)
	defer t.Stop()
	select {
	case <-pc.Decided():
		return pc.FinalOperation()
	case <-t.C:
	case <-ctx.Done():
	}
	return paxos.Operation{}, false
}

// apply writes op to the store once per proposal context, holding the key
// lock for the duration of the write.
func (n *Node) apply(ctx context.Context, pc *paxos.ProposalContext, op paxos.Operation) error {
	if pc.Applied() {
		return nil
	}
	tok, ok := n.locks.AcquireLock(ctx, op.Key, n.cfg.LockTimeout)
	if !ok {
		log.Warnf("[%s] could not lock key %q within %s", n.id, op.Key, n.cfg.LockTimeout)
		return fmt.Errorf("%w: key %q", ErrLockTimeout, op.Key)
	}
	defer n.locks.ReleaseLock(tok.Key)

	if pc.Applied() {
		return nil
	}
	var err error
	switch op.Type {
	case paxos.OpPut:
		err = n.store.Put(op.Key, op.Value)
	case paxos.OpDelete:
		err = n.store.Delete(op.Key)
	}
	if err != nil {
		return fmt.Errorf("apply %s: %w", op, err)
	}
	pc.MarkApplied()
	log.Debugf("[%s] applied %s for %s", n.id, op, pc.ID())
	return nil
}

// onDecide is the learner's hook: apply the decision to this replica. ctx
// belongs to the request chain that carried the deciding notification, so a
// cancelled caller stops waiting on the key lock.
func (n *Node) onDecide(ctx context.Context, id paxos.ProposalID, op paxos.Operation) {
	pc, ok := n.contexts.Get(id)
	if !ok {
		return
	}
	if err := n.apply(ctx, pc, op); err != nil {
		log.Warnf("[%s] learner could not apply %s for %s: %v", n.id, op, id, err)
	}
}
