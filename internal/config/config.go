// Package config holds the knobs a node is started with. The commands fill a
// Config from flags; the core only ever reads it.
package config

import (
	"errors"
	"flag"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Config struct {
	NodeID     string
	ListenAddr string
	// Peers maps every other node id to its dial address.
	Peers map[string]string
	// ClusterSize, when non-zero, must equal len(Peers)+1.
	ClusterSize int

	FailureRate      float64
	MaxRetries       int
	LockTimeout      time.Duration
	ConsensusTimeout time.Duration
	// LearnWait is how long Consensus waits for the local learner after the
	// proposal phase returned without a decision.
	LearnWait     time.Duration
	RejectBackoff time.Duration

	ContextTTL      time.Duration
	JanitorInterval time.Duration

	Storage  string
	LogLevel string
}

func Default() Config {
	return Config{
		ListenAddr:       "127.0.0.1:7001",
		Peers:            map[string]string{},
		FailureRate:      0,
		MaxRetries:       3,
		LockTimeout:      time.Second,
		ConsensusTimeout: 10 * time.Second,
		LearnWait:        200 * time.Millisecond,
		RejectBackoff:    20 * time.Millisecond,
		ContextTTL:       5 * time.Minute,
		JanitorInterval:  30 * time.Second,
		Storage:          "memory",
		LogLevel:         "info",
	}
}

var ErrInvalid = errors.New("invalid config")

func (c Config) Validate() error {
	var errs []error
	if c.NodeID == "" {
		errs = append(errs, errors.New("node id is required"))
	}
	if _, ok := c.Peers[c.NodeID]; ok && c.NodeID != "" {
		errs = append(errs, fmt.Errorf("peers must not include self (%s)", c.NodeID))
	}
	if c.ClusterSize != 0 && c.ClusterSize != len(c.Peers)+1 {
		errs = append(errs, fmt.Errorf("cluster size %d does not match %d peers + self", c.ClusterSize, len(c.Peers)))
	}
	if c.FailureRate < 0 || c.FailureRate > 1 {
		errs = append(errs, fmt.Errorf("failure rate %v outside [0,1]", c.FailureRate))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max retries %d must be at least 1", c.MaxRetries))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("lock timeout must be positive"))
	}
	if c.ConsensusTimeout <= 0 {
		errs = append(errs, errors.New("consensus timeout must be positive"))
	}
	if c.LearnWait < 0 || c.RejectBackoff < 0 {
		errs = append(errs, errors.New("learn wait and reject backoff must not be negative"))
	}
	if c.ContextTTL <= 0 || c.JanitorInterval <= 0 {
		errs = append(errs, errors.New("context ttl and janitor interval must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// PeerIDs returns the peer ids in sorted order.
func (c Config) PeerIDs() []string {
	ids := make([]string, 0, len(c.Peers))
	for id := range c.Peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RegisterFlags binds every field to fs, using c's current values as
// defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.NodeID, "id", c.NodeID, "unique node id")
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "address to serve gRPC on")
	fs.Var((*peerFlag)(&c.Peers), "peers", "comma separated id=addr list of the other nodes")
	fs.IntVar(&c.ClusterSize, "cluster-size", c.ClusterSize, "expected cluster size, 0 to derive from -peers")
	fs.Float64Var(&c.FailureRate, "failure-rate", c.FailureRate, "probability an acceptor call fails on purpose")
	fs.IntVar(&c.MaxRetries, "max-retries", c.MaxRetries, "delivery attempts per PREPARE/ACCEPT")
	fs.DurationVar(&c.LockTimeout, "lock-timeout", c.LockTimeout, "max wait for a key lock when applying")
	fs.DurationVar(&c.ConsensusTimeout, "consensus-timeout", c.ConsensusTimeout, "overall bound on one consensus call")
	fs.DurationVar(&c.LearnWait, "learn-wait", c.LearnWait, "grace period for the local learner after proposing")
	fs.DurationVar(&c.RejectBackoff, "reject-backoff", c.RejectBackoff, "max random pause before retrying after REJECT")
	fs.DurationVar(&c.ContextTTL, "context-ttl", c.ContextTTL, "how long decided proposal contexts are kept")
	fs.DurationVar(&c.JanitorInterval, "janitor-interval", c.JanitorInterval, "how often expired contexts are evicted")
	fs.StringVar(&c.Storage, "storage", c.Storage, "store backend: memory or badger")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
}

type peerFlag map[string]string

func (p *peerFlag) String() string {
	if p == nil || *p == nil {
		return ""
	}
	parts := make([]string, 0, len(*p))
	for id, addr := range *p {
		parts = append(parts, id+"="+addr)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (p *peerFlag) Set(s string) error {
	peers, err := ParsePeers(s)
	if err != nil {
		return err
	}
	*p = peers
	return nil
}

// ParsePeers parses "id=addr,id=addr".
func ParsePeers(s string) (map[string]string, error) {
	peers := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, addr, ok := strings.Cut(part, "=")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("bad peer %q, want id=addr", part)
		}
		if _, dup := peers[id]; dup {
			return nil, fmt.Errorf("duplicate peer %q", id)
		}
		peers[id] = addr
	}
	return peers, nil
}
