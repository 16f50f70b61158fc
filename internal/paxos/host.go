package paxos

import (
	"context"
	"errors"
	"math/rand/v2"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("paxos")

var (
	// ErrSimulatedFailure is returned by an acceptor that decided to fail the
	// call. Senders see it exactly like a transport failure.
	ErrSimulatedFailure = errors.New("simulated acceptor failure")
)

// Host is the node a role runs on: who it is, who its peers are, and how to
// deliver a message to Message.To. SendMessage is synchronous: it returns
// after the target's handler ran, or with the transport error.
type Host interface {
	ID() string
	OtherNodes() []string
	SendMessage(ctx context.Context, msg Message) error
}

// clusterSize counts the host itself as a voter.
func clusterSize(h Host) int {
	return len(h.OtherNodes()) + 1
}

// FailureInjector fails calls with a fixed probability. A nil injector never
// fails.
type FailureInjector struct {
	rate float64
}

func NewFailureInjector(rate float64) *FailureInjector {
	return &FailureInjector{rate: rate}
}

func (f *FailureInjector) MaybeFail() error {
	if f == nil || f.rate <= 0 {
		return nil
	}
	if rand.Float64() < f.rate {
		return ErrSimulatedFailure
	}
	return nil
}
