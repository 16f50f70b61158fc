// =============================================================================
// DEMO RUNNER - Replicated Key-Value Store over Paxos
// =============================================================================
//
// Runs three in-process nodes over a MemoryNetwork and walks through:
//
//   A. one PUT, then GET on every node
//   B. on the same cluster with emptied stores, two nodes PUT the same key
//      concurrently under one proposal id; one value is chosen and every
//      replica ends up equal
//   C. a cluster whose acceptors always fail; the PUT is indeterminate and
//      nothing is written
//
//                     ┌─────────┐
//                     │ Client  │
//                     └────┬────┘
//                          │ PUT x=1
//                          ▼
//            ┌─────────┬─────────┬─────────┐
//            │ node-1  │ node-2  │ node-3  │
//            └────┬────┴────┬────┴────┬────┘
//                 └─────────┴─────────┘
//                     all apply x=1
//
// Run with: go run ./cmd/demo [-log-level debug]
//
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/senutpal/quorumkv/internal/config"
	"github.com/senutpal/quorumkv/internal/node"
	"github.com/senutpal/quorumkv/internal/paxos"
	"github.com/senutpal/quorumkv/internal/storage"
	"github.com/senutpal/quorumkv/internal/transport"
)

var nodeIDs = []string{"node-1", "node-2", "node-3"}

type cluster struct {
	net    *transport.MemoryNetwork
	nodes  []*node.Node
	stores []*storage.MemoryStorage
}

func newCluster(failureRate float64) *cluster {
	c := &cluster{net: transport.NewMemoryNetwork()}
	for _, id := range nodeIDs {
		cfg := config.Default()
		cfg.NodeID = id
		cfg.FailureRate = failureRate
		cfg.ConsensusTimeout = 5 * time.Second
		for _, peer := range nodeIDs {
			if peer != id {
				cfg.Peers[peer] = "memory"
			}
		}
		store := storage.NewMemoryStorage()
		n := node.NewNode(cfg, c.net, store)
		c.net.Register(id, n)
		c.nodes = append(c.nodes, n)
		c.stores = append(c.stores, store)
	}
	return c
}

func (c *cluster) start() error {
	for _, n := range c.nodes {
		if err := n.Start(); err != nil {
			return fmt.Errorf("start %s: %w", n.ID(), err)
		}
	}
	return nil
}

// stop stops every node, even after a failure, and reports all failures.
func (c *cluster) stop() error {
	var errs []error
	for _, n := range c.nodes {
		if err := n.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", n.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// reset empties every replica so the next scenario starts from a blank store.
func (c *cluster) reset() {
	for _, s := range c.stores {
		s.Reset()
	}
}

func (c *cluster) dump(key string) {
	for _, n := range c.nodes {
		status, err := n.HandleGet(key)
		if err != nil {
			fmt.Printf("  %s: %v\n", n.ID(), err)
			continue
		}
		fmt.Printf("  %s: %s\n", n.ID(), status)
	}
}

func main() {
	level := flag.String("log-level", "warn", "log level for the cluster")
	flag.Parse()
	if err := logging.SetLogLevel("*", *level); err != nil {
		fatal(err)
	}

	ctx := context.Background()

	fmt.Println("== A: single PUT ==")
	a := newCluster(0)
	if err := a.start(); err != nil {
		fatal(err)
	}
	status, err := a.nodes[0].HandlePut(ctx, paxos.NewProposalID(), "x", "1")
	report(status, err)
	a.dump("x")
	status, err = a.nodes[1].HandleDelete(ctx, paxos.NewProposalID(), "x")
	report(status, err)
	a.dump("x")

	fmt.Println("\n== B: concurrent PUTs on one key ==")
	a.reset()
	shared := paxos.NewProposalID()
	var wg sync.WaitGroup
	for i, v := range []string{"from-node-1", "from-node-2"} {
		wg.Add(1)
		go func(n *node.Node, value string) {
			defer wg.Done()
			status, err := n.HandlePut(ctx, shared, "k", value)
			report(status, err)
		}(a.nodes[i], v)
	}
	wg.Wait()
	a.dump("k")
	if err := a.stop(); err != nil {
		fatal(err)
	}

	fmt.Println("\n== C: acceptors always fail ==")
	c := newCluster(1.0)
	if err := c.start(); err != nil {
		fatal(err)
	}
	status, err = c.nodes[0].HandlePut(ctx, paxos.NewProposalID(), "y", "2")
	report(status, err)
	c.dump("y")
	if err := c.stop(); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(2)
}

func report(status string, err error) {
	if err != nil {
		fmt.Printf("  error: %v\n", err)
		return
	}
	fmt.Printf("  %s\n", status)
}
