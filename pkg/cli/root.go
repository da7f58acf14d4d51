// Package cli is the bookfetch command line: listing releases, acquiring
// content units into the cache and maintaining the cache.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"bookfetch/pkg/acquire"
	"bookfetch/pkg/cache"
	"bookfetch/pkg/config"
	"bookfetch/pkg/display"
	"bookfetch/pkg/downloader"
	"bookfetch/pkg/location"
	"bookfetch/pkg/release"
)

type globalFlags struct {
	configPath string
	verbose    bool
}

// Managers bundles what a command needs once the config is loaded.
type Managers struct {
	Config  *config.Config
	Root    *cache.Root
	Acquire *acquire.Manager
	Out     display.Display
	Logger  *slog.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "bookfetch",
		Short:         "Fetch and cache published book content",
		Long:          "bookfetch downloads release archives of books from GitHub or shared file servers and keeps them extracted in a local cache.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default "+config.DefaultPath()+")")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "show progress and debug logs")

	root.AddCommand(
		newReleasesCmd(g),
		newAcquireCmd(g),
		newUnitsCmd(g),
		newUsageCmd(g),
		newRemoveCmd(g),
		newPruneCmd(g),
		newWaitCmd(g),
		newConfigCmd(g),
	)
	return root
}

// Run executes the command line args.
func Run(ctx context.Context, args []string) error {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func newLogger(cmd *cobra.Command, g *globalFlags) *slog.Logger {
	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setup loads the config and opens the cache. With index set, shared file
// locations are treated as directory indexes listing versions.
func setup(cmd *cobra.Command, g *globalFlags, index bool) (*Managers, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd, g)

	root, err := cache.NewRoot(cfg.CacheDir, cache.WithLockTimeout(cfg.LockTimeout), cache.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("error opening cache: %w", err)
	}
	format, err := cfg.Format()
	if err != nil {
		return nil, err
	}

	// Downloads are bounded by ctx only; the timeout applies to listings.
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	listing := []release.Option{
		release.WithHTTPClient(client),
		release.WithMaxPages(cfg.MaxPages),
		release.WithLogger(logger),
	}
	github := append([]release.Option{
		release.WithBaseURL(cfg.GitHubAPI),
		release.WithToken(cfg.GitHubToken),
	}, listing...)

	progress := display.NewWriterDisplay(cmd.ErrOrStderr())
	progress.SetVerbose(g.verbose)

	fetcher := downloader.NewFetcher(
		downloader.NewDefaultDownloader(),
		root.DownloadDir(),
		downloader.WithLogger(logger),
	)
	opts := []acquire.Option{
		acquire.WithProvider(location.GitHub, release.NewGitHubProvider(github...)),
		acquire.WithFetcher(fetcher),
		acquire.WithPreferredFormat(format),
		acquire.WithConcurrency(cfg.Concurrency),
		acquire.WithMaxExtractBytes(cfg.MaxExtractBytes),
		acquire.WithLogger(logger),
		acquire.WithDisplay(progress),
	}
	if index {
		opts = append(opts, acquire.WithProvider(location.SharedFile, release.NewIndexProvider(listing...)))
	}

	return &Managers{
		Config:  cfg,
		Root:    root,
		Acquire: acquire.New(root, opts...),
		Out:     display.NewWriterDisplay(cmd.OutOrStdout()),
		Logger:  logger,
	}, nil
}
