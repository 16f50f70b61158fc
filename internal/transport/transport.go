// =============================================================================
// TRANSPORT INTERFACE - How Nodes Reach Each Other
// =============================================================================
//
// The transport is a synchronous request/response call: Send delivers one
// paxos.Message to msg.To and returns once that node's handler ran. An error
// means "no answer" (unreachable peer, dropped message, deadline, or an
// acceptor that failed on purpose). It is never a negative vote; REJECT is a
// message, not an error.
//
// Two implementations:
//
//   MemoryNetwork  in-process registry for tests and the demo, with simulated
//                  message loss and partitions
//   GRPCNetwork    one gRPC connection per peer, JSON on the wire
//
// Delivery to self is the node's job; transports only carry messages between
// distinct nodes.
//
// =============================================================================

package transport

import (
	"context"
	"errors"

	logging "github.com/ipfs/go-log/v2"

	"github.com/senutpal/quorumkv/internal/paxos"
)

var log = logging.Logger("transport")

var (
	ErrUnknownNode = errors.New("transport: unknown node")
	ErrUnreachable = errors.New("transport: node unreachable")
	ErrDropped     = errors.New("transport: message dropped")
	ErrClosed      = errors.New("transport: closed")
)

// Handler receives messages addressed to one node.
type Handler interface {
	ReceiveMessage(ctx context.Context, msg paxos.Message) error
}

type Network interface {
	Send(ctx context.Context, msg paxos.Message) error
}

// Service is everything a node exposes remotely: peer message delivery plus
// the client-facing key-value operations.
type Service interface {
	Handler
	ID() string
	OtherNodes() []string
	HandlePut(ctx context.Context, id paxos.ProposalID, key, value string) (string, error)
	HandleGet(key string) (string, error)
	HandleDelete(ctx context.Context, id paxos.ProposalID, key string) (string, error)
	GetAll() ([]string, error)
}
