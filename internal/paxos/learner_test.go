package paxos

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accepted(id ProposalID, n ProposalNumber, from string, op Operation) Message {
	return Message{ProposalID: id, Type: MessageAccepted, ProposalNumber: n, From: from, To: "a", Operation: op}
}

func TestLearnerDecidesOnMajority(t *testing.T) {
	host := newRecordingHost("a", "b", "c")
	contexts := NewContextStore()
	var decisions []Operation
	l := NewLearner(host, contexts, func(_ context.Context, _ ProposalID, op Operation) {
		decisions = append(decisions, op)
	})
	id := NewProposalID()
	n := NewProposalNumber(1, "b")
	op := Operation{Type: OpPut, Key: "x", Value: "1"}
	ctx := context.Background()

	l.HandleAcceptedNotification(ctx, accepted(id, n, "b", op))
	l.HandleAcceptedNotification(ctx, accepted(id, n, "b", op))
	_, ok := contexts.GetOrCreate(id).FinalOperation()
	assert.False(t, ok, "a duplicate must not count twice")

	l.HandleAcceptedNotification(ctx, accepted(id, n, "c", op))
	final, ok := contexts.GetOrCreate(id).FinalOperation()
	require.True(t, ok)
	assert.Equal(t, op, final)

	l.HandleAcceptedNotification(ctx, accepted(id, n, "a", op))
	assert.Equal(t, []Operation{op}, decisions)
	assert.Equal(t, []string{"a", "b", "c"}, contexts.GetOrCreate(id).AcceptedNodes(n))
}

func TestLearnerDoesNotMixBallots(t *testing.T) {
	host := newRecordingHost("a", "b", "c")
	contexts := NewContextStore()
	l := NewLearner(host, contexts, nil)
	id := NewProposalID()
	ctx := context.Background()

	l.HandleAcceptedNotification(ctx, accepted(id, NewProposalNumber(1, "b"), "b", Operation{Type: OpPut, Key: "x", Value: "1"}))
	l.HandleAcceptedNotification(ctx, accepted(id, NewProposalNumber(2, "c"), "c", Operation{Type: OpPut, Key: "x", Value: "2"}))

	c := contexts.GetOrCreate(id)
	_, ok := c.FinalOperation()
	assert.False(t, ok)
	assert.False(t, c.AcceptedConsensus())
}

func TestLearnerKeepsFirstDecision(t *testing.T) {
	host := newRecordingHost("a", "b", "c")
	contexts := NewContextStore()
	calls := 0
	l := NewLearner(host, contexts, func(context.Context, ProposalID, Operation) { calls++ })
	id := NewProposalID()
	ctx := context.Background()
	first := Operation{Type: OpPut, Key: "x", Value: "1"}
	n1 := NewProposalNumber(1, "a")
	n2 := NewProposalNumber(2, "b")

	l.HandleAcceptedNotification(ctx, accepted(id, n1, "a", first))
	l.HandleAcceptedNotification(ctx, accepted(id, n1, "b", first))
	l.HandleAcceptedNotification(ctx, accepted(id, n2, "b", first))
	l.HandleAcceptedNotification(ctx, accepted(id, n2, "c", first))

	final, ok := contexts.GetOrCreate(id).FinalOperation()
	require.True(t, ok)
	assert.Equal(t, first, final)
	assert.Equal(t, 1, calls)
}
