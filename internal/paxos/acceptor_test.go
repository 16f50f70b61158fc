package paxos

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prepare(id ProposalID, n ProposalNumber, op Operation) Message {
	return Message{ProposalID: id, Type: MessagePrepare, ProposalNumber: n, From: n.NodeID, To: "b", Operation: op}
}

func TestAcceptorPromisesHigherBallot(t *testing.T) {
	host := newRecordingHost("b", "a", "c")
	contexts := NewContextStore()
	acc := NewAcceptor(host, contexts, nil)
	id := NewProposalID()
	op := Operation{Type: OpPut, Key: "x", Value: "1"}

	require.NoError(t, acc.HandlePrepare(context.Background(), prepare(id, NewProposalNumber(1, "a"), op)))

	commits := host.messages(MessageCommit)
	require.Len(t, commits, 1)
	assert.Equal(t, "b", commits[0].From)
	assert.Equal(t, "a", commits[0].To)
	assert.Equal(t, NewProposalNumber(1, "a"), commits[0].ProposalNumber)
	assert.True(t, commits[0].AcceptedNumber.IsZero())
	assert.Equal(t, op, commits[0].Operation)

	c, ok := contexts.Get(id)
	require.True(t, ok)
	assert.Equal(t, NewProposalNumber(1, "a"), c.PromisedProposalNumber())
}

func TestAcceptorRejectsLowerOrEqualBallot(t *testing.T) {
	host := newRecordingHost("b", "a", "c")
	contexts := NewContextStore()
	acc := NewAcceptor(host, contexts, nil)
	id := NewProposalID()
	promised := NewProposalNumber(5, "c")
	contexts.GetOrCreate(id).SetPromisedProposalNumber(promised)

	for _, n := range []ProposalNumber{NewProposalNumber(3, "a"), promised} {
		host.reset()
		require.NoError(t, acc.HandlePrepare(context.Background(), prepare(id, n, Operation{Type: OpPut, Key: "x"})))

		assert.Empty(t, host.messages(MessageCommit))
		rejects := host.messages(MessageReject)
		require.Len(t, rejects, 1)
		assert.Equal(t, promised, rejects[0].ProposalNumber)
		assert.Equal(t, n, rejects[0].RequestNumber)
		assert.Equal(t, n.NodeID, rejects[0].To)
	}
	assert.Equal(t, promised, contexts.GetOrCreate(id).PromisedProposalNumber())
}

func TestAcceptorReportsAcceptedValueInCommit(t *testing.T) {
	host := newRecordingHost("b", "a", "c")
	contexts := NewContextStore()
	acc := NewAcceptor(host, contexts, nil)
	id := NewProposalID()
	old := Operation{Type: OpPut, Key: "x", Value: "old"}

	accept := Message{ProposalID: id, Type: MessageAccept, ProposalNumber: NewProposalNumber(1, "a"), From: "a", To: "b", Operation: old}
	require.NoError(t, acc.HandleAccept(context.Background(), accept))
	host.reset()

	newer := Operation{Type: OpPut, Key: "x", Value: "new"}
	require.NoError(t, acc.HandlePrepare(context.Background(), prepare(id, NewProposalNumber(2, "c"), newer)))

	commits := host.messages(MessageCommit)
	require.Len(t, commits, 1)
	assert.Equal(t, NewProposalNumber(1, "a"), commits[0].AcceptedNumber)
	assert.Equal(t, old, commits[0].Operation)
}

func TestAcceptorAcceptNotifiesEveryLearner(t *testing.T) {
	host := newRecordingHost("b", "a", "c")
	contexts := NewContextStore()
	acc := NewAcceptor(host, contexts, nil)
	id := NewProposalID()
	n := NewProposalNumber(2, "a")
	op := Operation{Type: OpDelete, Key: "x"}
	contexts.GetOrCreate(id).SetPromisedProposalNumber(n)

	accept := Message{ProposalID: id, Type: MessageAccept, ProposalNumber: n, From: "a", To: "b", Operation: op}
	require.NoError(t, acc.HandleAccept(context.Background(), accept))

	notes := host.messages(MessageAccepted)
	assert.Equal(t, []string{"b", "a", "c"}, targets(notes))
	for _, note := range notes {
		assert.Equal(t, "b", note.From)
		assert.Equal(t, n, note.ProposalNumber)
		assert.Equal(t, op, note.Operation)
	}

	got, gotOp, ok := contexts.GetOrCreate(id).Accepted()
	require.True(t, ok)
	assert.Equal(t, n, got)
	assert.Equal(t, op, gotOp)
}

func TestAcceptorDropsStaleAccept(t *testing.T) {
	host := newRecordingHost("b", "a", "c")
	contexts := NewContextStore()
	acc := NewAcceptor(host, contexts, nil)
	id := NewProposalID()
	contexts.GetOrCreate(id).SetPromisedProposalNumber(NewProposalNumber(3, "c"))

	accept := Message{ProposalID: id, Type: MessageAccept, ProposalNumber: NewProposalNumber(2, "a"), From: "a", To: "b"}
	require.NoError(t, acc.HandleAccept(context.Background(), accept))

	assert.Empty(t, host.messages(MessageAccepted))
	_, _, ok := contexts.GetOrCreate(id).Accepted()
	assert.False(t, ok)
}

func TestAcceptorSimulatedFailure(t *testing.T) {
	host := newRecordingHost("b", "a", "c")
	contexts := NewContextStore()
	acc := NewAcceptor(host, contexts, NewFailureInjector(1))
	id := NewProposalID()

	err := acc.HandlePrepare(context.Background(), prepare(id, NewProposalNumber(1, "a"), Operation{}))
	assert.ErrorIs(t, err, ErrSimulatedFailure)

	accept := Message{ProposalID: id, Type: MessageAccept, ProposalNumber: NewProposalNumber(1, "a"), From: "a", To: "b"}
	assert.ErrorIs(t, acc.HandleAccept(context.Background(), accept), ErrSimulatedFailure)

	assert.Zero(t, host.calls)
	_, ok := contexts.Get(id)
	assert.False(t, ok)
}
