package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/blockberries/frame/config"
	"github.com/blockberries/frame/example/testchain"
	"github.com/blockberries/frame/executive"
	framegrpc "github.com/blockberries/frame/grpc"
	"github.com/blockberries/frame/metrics"
	"github.com/blockberries/frame/server"
	"github.com/blockberries/frame/storage"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen  string
	DataDir string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the runtime over gRPC",
		Long: `Serve the test chain runtime to a host node over gRPC.

State is kept in LevelDB under data_dir, or in memory when it is empty.
On a fresh chain with a genesis file configured, genesis is built before
the listener opens; otherwise the host supplies it in the handshake.

Example:
  frame-node serve --config node.yaml
  frame-node serve --listen 127.0.0.1:26658 --data-dir ./data`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if opts.ConfigPath != "" {
				var err error
				if cfg, err = config.Load(opts.ConfigPath); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = opts.Listen
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.DataDir = opts.DataDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lis, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return fmt.Errorf("failed to listen: %w", err)
			}
			return serve(ctx, cfg, lis)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", config.DefaultListen, "gRPC listen address")
	cmd.Flags().StringVar(&opts.DataDir, "data-dir", "", "LevelDB state directory (empty = in-memory)")

	return cmd
}

// node is a running runtime process.
type node struct {
	cfg       config.Config
	logger    *logrus.Logger
	rt        *executive.Executive
	collector *metrics.Collector
	svc       *framegrpc.GRPCServer
	gs        *grpc.Server
}

func newNode(cfg config.Config) (*node, error) {
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}

	var backend storage.Backend
	if cfg.DataDir != "" {
		lb, err := storage.OpenLevelBackend(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open state: %w", err)
		}
		backend = lb
	} else {
		backend = storage.NewMemBackend()
	}

	n := &node{cfg: cfg, logger: logger, collector: metrics.NewCollector("")}
	rtOpts := cfg.RuntimeOptions()
	rtOpts.Backend = backend
	rtOpts.Logger = logger
	rtOpts.Observer = n.collector
	if n.rt, err = testchain.New(rtOpts); err != nil {
		_ = backend.Close()
		return nil, err
	}

	if head, ok := n.rt.Head(); ok {
		logger.WithField("number", head.Number).Info("Resuming from committed state")
	} else if cfg.Genesis != "" {
		if err := n.buildGenesis(); err != nil {
			_ = n.rt.Close()
			return nil, err
		}
	}

	n.svc = framegrpc.NewGRPCServer(n.rt, server.WithLogger(logger))
	n.gs = grpc.NewServer(grpc.ChainUnaryInterceptor(n.collector.UnaryServerInterceptor()))
	n.svc.Register(n.gs)
	return n, nil
}

func (n *node) buildGenesis() error {
	g, err := config.LoadGenesis(n.cfg.Genesis)
	if err != nil {
		return err
	}
	gc, err := g.Config()
	if err != nil {
		return fmt.Errorf("failed to encode genesis: %w", err)
	}
	head, err := n.rt.InitGenesis(context.Background(), gc)
	if err != nil {
		return fmt.Errorf("failed to build genesis: %w", err)
	}
	n.logger.WithFields(logrus.Fields{
		"chain_id":   g.ChainID,
		"state_root": head.StateRoot,
	}).Info("Built genesis")
	return nil
}

// run serves until ctx is cancelled or a server fails.
func (n *node) run(ctx context.Context, lis net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n.logger.WithField("addr", lis.Addr().String()).Info("Serving runtime")
		return n.gs.Serve(lis)
	})

	var metricsSrv *http.Server
	if n.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", n.collector.Handler())
		metricsSrv = &http.Server{Addr: n.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			n.logger.WithField("addr", n.cfg.MetricsAddr).Info("Serving metrics")
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		n.logger.Info("Shutting down")
		n.svc.Stop(n.gs)
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	err := g.Wait()
	if cerr := n.svc.Server().Close(); cerr != nil {
		n.logger.WithError(cerr).Error("Failed to close runtime")
	}
	return err
}

func serve(ctx context.Context, cfg config.Config, lis net.Listener) error {
	n, err := newNode(cfg)
	if err != nil {
		_ = lis.Close()
		return err
	}
	return n.run(ctx, lis)
}
