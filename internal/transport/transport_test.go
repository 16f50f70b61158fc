package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/senutpal/quorumkv/internal/paxos"
)

type stubService struct {
	id string

	mu       sync.Mutex
	received []paxos.Message
	puts     map[paxos.ProposalID][2]string
	deletes  []string
	err      error
}

func newStubService(id string) *stubService {
	return &stubService{id: id, puts: make(map[paxos.ProposalID][2]string)}
}

func (s *stubService) ID() string           { return s.id }
func (s *stubService) OtherNodes() []string { return []string{"b", "c"} }

func (s *stubService) ReceiveMessage(_ context.Context, msg paxos.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, msg)
	return s.err
}

func (s *stubService) HandlePut(_ context.Context, id paxos.ProposalID, key, value string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts[id] = [2]string{key, value}
	return "put " + key, s.err
}

func (s *stubService) HandleGet(key string) (string, error) {
	return "get " + key, nil
}

func (s *stubService) HandleDelete(_ context.Context, _ paxos.ProposalID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, key)
	return "delete " + key, nil
}

func (s *stubService) GetAll() ([]string, error) {
	return []string{"a->1", "b->2"}, nil
}

func (s *stubService) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubService) messages() []paxos.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]paxos.Message(nil), s.received...)
}

func testMessage(to string) paxos.Message {
	return paxos.Message{
		ProposalID:     paxos.NewProposalID(),
		Type:           paxos.MessagePrepare,
		ProposalNumber: paxos.NewProposalNumber(3, "a"),
		From:           "a",
		To:             to,
		Operation:      paxos.Operation{Type: paxos.OpPut, Key: "x", Value: "1"},
	}
}

func TestMemoryNetworkDelivers(t *testing.T) {
	mn := NewMemoryNetwork()
	b := newStubService("b")
	mn.Register("b", b)

	msg := testMessage("b")
	require.NoError(t, mn.Send(context.Background(), msg))
	assert.Equal(t, []paxos.Message{msg}, b.messages())

	b.setErr(errors.New("handler failed"))
	assert.EqualError(t, mn.Send(context.Background(), msg), "handler failed")
}

func TestMemoryNetworkFailures(t *testing.T) {
	mn := NewMemoryNetwork()
	b := newStubService("b")
	mn.Register("b", b)
	ctx := context.Background()

	assert.ErrorIs(t, mn.Send(ctx, testMessage("zzz")), ErrUnknownNode)

	mn.Disconnect("a")
	assert.ErrorIs(t, mn.Send(ctx, testMessage("b")), ErrUnreachable)
	mn.Reconnect("a")
	assert.NoError(t, mn.Send(ctx, testMessage("b")))

	mn.SetDropRate(1)
	assert.ErrorIs(t, mn.Send(ctx, testMessage("b")), ErrDropped)
	mn.SetDropRate(0)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, mn.Send(cancelled, testMessage("b")), context.Canceled)

	mn.Unregister("b")
	assert.ErrorIs(t, mn.Send(ctx, testMessage("b")), ErrUnknownNode)
	assert.Len(t, b.messages(), 1)
}

func startBufconn(t *testing.T, svc Service) grpc.DialOption {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(svc)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func TestGRPCNetworkDeliver(t *testing.T) {
	b := newStubService("b")
	dialer := startBufconn(t, b)

	network := NewGRPCNetwork(map[string]string{"b": "passthrough:///bufnet"}, dialer)
	defer network.Close()
	ctx := context.Background()

	msg := testMessage("b")
	require.NoError(t, network.Send(ctx, msg))
	got := b.messages()
	require.Len(t, got, 1)
	assert.Equal(t, msg, got[0])

	b.setErr(errors.New("acceptor down"))
	err := network.Send(ctx, msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acceptor down")

	assert.ErrorIs(t, network.Send(ctx, testMessage("c")), ErrUnknownNode)

	require.NoError(t, network.Close())
	assert.ErrorIs(t, network.Send(ctx, msg), ErrClosed)
}

func TestGRPCClient(t *testing.T) {
	svc := newStubService("a")
	dialer := startBufconn(t, svc)

	c, err := Dial("passthrough:///bufnet", dialer)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	id := paxos.NewProposalID()
	status, err := c.Put(ctx, id, "x", "1")
	require.NoError(t, err)
	assert.Equal(t, "put x", status)
	assert.Equal(t, [2]string{"x", "1"}, svc.puts[id])

	_, err = c.Put(ctx, paxos.ProposalID{}, "y", "2")
	require.NoError(t, err)
	assert.Len(t, svc.puts, 2)
	_, zeroUsed := svc.puts[paxos.ProposalID{}]
	assert.False(t, zeroUsed, "server assigns an id when none is sent")

	status, err = c.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "get x", status)

	status, err = c.Delete(ctx, paxos.NewProposalID(), "x")
	require.NoError(t, err)
	assert.Equal(t, "delete x", status)
	assert.Equal(t, []string{"x"}, svc.deletes)

	all, err := c.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a->1", "b->2"}, all)

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, NodeInfo{NodeID: "a", OtherNodes: []string{"b", "c"}}, info)
}

func TestProposalIDParsing(t *testing.T) {
	id, err := proposalID("")
	require.NoError(t, err)
	assert.NotEqual(t, paxos.ProposalID{}, id)

	want := paxos.NewProposalID()
	id, err = proposalID(want.String())
	require.NoError(t, err)
	assert.Equal(t, want, id)

	_, err = proposalID("not-a-uuid")
	assert.Error(t, err)
}
