// Command node runs one replica of the key-value store and serves both peer
// traffic and client calls over gRPC.
//
//	node -id a -listen 127.0.0.1:7001 -peers b=127.0.0.1:7002,c=127.0.0.1:7003
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"

	"github.com/senutpal/quorumkv/internal/config"
	"github.com/senutpal/quorumkv/internal/node"
	"github.com/senutpal/quorumkv/internal/storage"
	"github.com/senutpal/quorumkv/internal/transport"
)

var log = logging.Logger("main")

func main() {
	cfg := config.Default()
	fs := flag.NewFlagSet("node", flag.ExitOnError)
	cfg.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logging.SetLogLevel("*", cfg.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	network := transport.NewGRPCNetwork(cfg.Peers)
	defer network.Close()

	n := node.NewNode(cfg, network, store)
	srv := transport.NewGRPCServer(n)

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(lis)
	})
	g.Go(func() error {
		if err := n.Start(); err != nil {
			return err
		}
		<-ctx.Done()
		log.Infof("[%s] shutting down", cfg.NodeID)
		srv.GracefulStop()
		return n.Stop()
	})

	log.Infof("[%s] up with %d peers, storage=%s", cfg.NodeID, len(cfg.Peers), cfg.Storage)
	return g.Wait()
}
