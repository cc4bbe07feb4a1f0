// Package cli defines the liveplayctl operator commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dalemusser/liveplay/internal/app/bootstrap"
	"github.com/dalemusser/liveplay/internal/app/services"
	"github.com/dalemusser/liveplay/internal/app/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev" // set via ldflags at build time

// OpenStore connects the store a command works against. close releases it.
type OpenStore func(ctx context.Context, cfg Config) (set store.Set, close func(), err error)

// Options configure the root command. Zero values use stdout, a
// development zap logger and the MongoDB store.
type Options struct {
	Out    io.Writer
	Logger *zap.Logger
	Open   OpenStore
}

type app struct {
	opts       Options
	configPath string
}

// NewRootCommand builds the liveplayctl command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Open == nil {
		opts.Open = openMongo
	}
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:   "liveplayctl",
		Short: "Operator tooling for the liveplay session runtime",
		Long: `liveplayctl runs maintenance against a liveplay database: one-off
sweeps, permanent deletion of archived sessions, and credentials for
development hosts and the cleanup endpoint.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(opts.Out)
	root.PersistentFlags().StringVar(&a.configPath, "config", DefaultConfigFile, "Path to the liveplayctl YAML config")

	root.AddCommand(a.configCmd())
	root.AddCommand(a.issueTokenCmd())
	root.AddCommand(a.hashSecretCmd())
	root.AddCommand(a.sweepCmd())
	root.AddCommand(a.purgeCmd())
	return root
}

// Execute runs the root command. Called from main.
func Execute() {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	defer func() { _ = logger.Sync() }()

	if err := NewRootCommand(Options{Logger: logger}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) config() (Config, error) {
	return LoadConfig(a.configPath)
}

// runtime opens the store and wires the services over it.
func (a *app) runtime(ctx context.Context, cfg Config) (*services.Services, func(), error) {
	set, closeStore, err := a.opts.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	sweep, err := cfg.Sweep.workers()
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	svc := services.New(set, nil, a.opts.Logger, services.Config{Sweeper: sweep})
	return svc, func() {
		svc.Hub.Close()
		closeStore()
	}, nil
}

func openMongo(ctx context.Context, cfg Config) (store.Set, func(), error) {
	client, err := bootstrap.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return store.Set{}, nil, fmt.Errorf("mongodb: %w", err)
	}
	closeFn := func() { _ = client.Disconnect(context.Background()) }
	return bootstrap.MongoSet(client.Database(cfg.MongoDatabase)), closeFn, nil
}

func (a *app) printYAML(cmd *cobra.Command, v any) error {
	enc := yamlEncoder(cmd.OutOrStdout())
	defer enc.Close()
	return enc.Encode(v)
}
