package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/senutpal/quorumkv/internal/paxos"
)

// =============================================================================
// WIRE FORMAT
// =============================================================================
//
// The service is declared by hand and carried by a JSON codec, so there is no
// generated code. Every call selects the codec with the "json" content
// subtype.

const (
	serviceName = "quorum.Node"
	codecName   = "json"
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type empty struct{}

type putRequest struct {
	ProposalID string `json:"proposalId,omitempty"`
	Key        string `json:"key"`
	Value      string `json:"value"`
}

type getRequest struct {
	Key string `json:"key"`
}

type deleteRequest struct {
	ProposalID string `json:"proposalId,omitempty"`
	Key        string `json:"key"`
}

type statusReply struct {
	Status string `json:"status"`
}

type allReply struct {
	Pairs []string `json:"pairs"`
}

// NodeInfo describes a node and its peers.
type NodeInfo struct {
	NodeID     string   `json:"nodeId"`
	OtherNodes []string `json:"otherNodes"`
}

func method(name string) string {
	return "/" + serviceName + "/" + name
}

// =============================================================================
// SERVER
// =============================================================================

type GRPCServer struct {
	svc Service
	srv *grpc.Server
}

type nodeServer interface {
	service() Service
}

func NewGRPCServer(svc Service, opts ...grpc.ServerOption) *GRPCServer {
	s := &GRPCServer{svc: svc, srv: grpc.NewServer(opts...)}
	s.srv.RegisterService(&serviceDesc, s)
	return s
}

func (s *GRPCServer) service() Service { return s.svc }

func (s *GRPCServer) Serve(lis net.Listener) error {
	log.Infof("[%s] serving gRPC on %s", s.svc.ID(), lis.Addr())
	return s.srv.Serve(lis)
}

func (s *GRPCServer) GracefulStop() { s.srv.GracefulStop() }

func (s *GRPCServer) Stop() { s.srv.Stop() }

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*nodeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Deliver", func(svc Service, ctx context.Context, in *paxos.Message) (*empty, error) {
			return &empty{}, svc.ReceiveMessage(ctx, *in)
		}),
		unary("Put", func(svc Service, ctx context.Context, in *putRequest) (*statusReply, error) {
			id, err := proposalID(in.ProposalID)
			if err != nil {
				return nil, err
			}
			status, err := svc.HandlePut(ctx, id, in.Key, in.Value)
			return &statusReply{Status: status}, err
		}),
		unary("Get", func(svc Service, _ context.Context, in *getRequest) (*statusReply, error) {
			status, err := svc.HandleGet(in.Key)
			return &statusReply{Status: status}, err
		}),
		unary("Delete", func(svc Service, ctx context.Context, in *deleteRequest) (*statusReply, error) {
			id, err := proposalID(in.ProposalID)
			if err != nil {
				return nil, err
			}
			status, err := svc.HandleDelete(ctx, id, in.Key)
			return &statusReply{Status: status}, err
		}),
		unary("All", func(svc Service, _ context.Context, _ *empty) (*allReply, error) {
			pairs, err := svc.GetAll()
			return &allReply{Pairs: pairs}, err
		}),
		unary("Info", func(svc Service, _ context.Context, _ *empty) (*NodeInfo, error) {
			return &NodeInfo{NodeID: svc.ID(), OtherNodes: svc.OtherNodes()}, nil
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quorum/node",
}

// unary builds a MethodDesc the way generated code does, decoding Req and
// running the server's interceptor chain around call.
func unary[Req, Resp any](name string, call func(Service, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(nodeServer).service()
			if interceptor == nil {
				return call(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(svc, ctx, req.(*Req))
			})
		},
	}
}

// proposalID parses id, or makes a fresh one when the client sent none.
func proposalID(id string) (paxos.ProposalID, error) {
	if id == "" {
		return paxos.NewProposalID(), nil
	}
	pid, err := paxos.ParseProposalID(id)
	if err != nil {
		return pid, fmt.Errorf("bad proposal id %q: %w", id, err)
	}
	return pid, nil
}

// =============================================================================
// PEER NETWORK
// =============================================================================

func defaultDialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}
}

// GRPCNetwork delivers messages to peers over lazily created, cached client
// connections.
type GRPCNetwork struct {
	mu       sync.Mutex
	addrs    map[string]string
	conns    map[string]*grpc.ClientConn
	dialOpts []grpc.DialOption
	closed   bool
}

// NewGRPCNetwork takes peer id -> address. Extra dial options are appended
// to insecure credentials and the JSON codec.
func NewGRPCNetwork(addrs map[string]string, opts ...grpc.DialOption) *GRPCNetwork {
	cp := make(map[string]string, len(addrs))
	for id, addr := range addrs {
		cp[id] = addr
	}
	return &GRPCNetwork{
		addrs:    cp,
		conns:    make(map[string]*grpc.ClientConn),
		dialOpts: append(defaultDialOptions(), opts...),
	}
}

func (n *GRPCNetwork) conn(id string) (*grpc.ClientConn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}
	if c, ok := n.conns[id]; ok {
		return c, nil
	}
	addr, ok := n.addrs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	c, err := grpc.NewClient(addr, n.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, id, err)
	}
	n.conns[id] = c
	return c, nil
}

func (n *GRPCNetwork) Send(ctx context.Context, msg paxos.Message) error {
	c, err := n.conn(msg.To)
	if err != nil {
		return err
	}
	return c.Invoke(ctx, method("Deliver"), &msg, &empty{})
}

func (n *GRPCNetwork) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	var firstErr error
	for id, c := range n.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(n.conns, id)
	}
	return firstErr
}

// =============================================================================
// CLIENT
// =============================================================================

// Client calls the client-facing operations of one node.
type Client struct {
	conn *grpc.ClientConn
}

func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	c, err := grpc.NewClient(addr, append(defaultDialOptions(), opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: c}, nil
}

func (c *Client) Put(ctx context.Context, id paxos.ProposalID, key, value string) (string, error) {
	out := new(statusReply)
	err := c.conn.Invoke(ctx, method("Put"), &putRequest{ProposalID: idString(id), Key: key, Value: value}, out)
	return out.Status, err
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	out := new(statusReply)
	err := c.conn.Invoke(ctx, method("Get"), &getRequest{Key: key}, out)
	return out.Status, err
}

func (c *Client) Delete(ctx context.Context, id paxos.ProposalID, key string) (string, error) {
	out := new(statusReply)
	err := c.conn.Invoke(ctx, method("Delete"), &deleteRequest{ProposalID: idString(id), Key: key}, out)
	return out.Status, err
}

func (c *Client) All(ctx context.Context) ([]string, error) {
	out := new(allReply)
	err := c.conn.Invoke(ctx, method("All"), &empty{}, out)
	return out.Pairs, err
}

func (c *Client) Info(ctx context.Context) (NodeInfo, error) {
	out := new(NodeInfo)
	err := c.conn.Invoke(ctx, method("Info"), &empty{}, out)
	return *out, err
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// idString leaves the id empty for the zero UUID so the server assigns one.
func idString(id paxos.ProposalID) string {
	if id == (paxos.ProposalID{}) {
		return ""
	}
	return id.String()
}
