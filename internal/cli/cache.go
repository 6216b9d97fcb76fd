package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tradeflow/internal/seed"
)

// CacheOptions holds flags for the cache commands.
type CacheOptions struct {
	Root  *RootOptions
	Cache string
}

// NewCacheCommand creates the cache command group: import event fixtures
// into the seed cache and inspect what it holds.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CacheOptions{Root: rootOpts}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local seed cache",
	}

	cmd.PersistentFlags().StringVar(&opts.Cache, "cache", "", "path to the seed cache database")

	cmd.AddCommand(newCacheImportCommand(opts))
	cmd.AddCommand(newCacheStatsCommand(opts))

	return cmd
}

func (o *CacheOptions) cachePath() (string, error) {
	if o.Cache != "" {
		return o.Cache, nil
	}
	cfg, err := LoadConfig(o.Root.Config)
	if err != nil {
		return "", err
	}
	if cfg.Cache == "" {
		return "", NewExitError(ExitCommandError, "no cache path: pass --cache or set it in the config")
	}
	return cfg.Cache, nil
}

func newCacheImportCommand(opts *CacheOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <event-file>...",
		Short: "Import recorded events into the seed cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    opts.Root.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Root.Verbose,
			}

			path, err := opts.cachePath()
			if err != nil {
				formatter.Error(ErrCodeNotFound, err.Error(), nil)
				return err
			}
			store, err := seed.Open(path)
			if err != nil {
				formatter.Error(ErrCodeCacheOpen, err.Error(), nil)
				return WrapExitError(ExitCommandError, "seed cache failed to open", err)
			}
			defer store.Close()

			total := 0
			for _, file := range args {
				events, err := LoadEvents(file)
				if err != nil {
					formatter.Error(ErrCodeBadEvents, err.Error(), nil)
					return err
				}
				if err := store.SaveAll(events); err != nil {
					formatter.Error(ErrCodeCacheWrite, err.Error(), nil)
					return WrapExitError(ExitFailure, "seed cache write failed", err)
				}
				formatter.VerboseLog("imported %d events from %s", len(events), file)
				total += len(events)
			}

			return formatter.Success(fmt.Sprintf("imported %d events into %s", total, path))
		},
	}
}

type cacheStats struct {
	Path   string         `json:"path"`
	Events int            `json:"events"`
	ByKind map[string]int `json:"by_kind"`
}

func (s cacheStats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d events\n", s.Path, s.Events)
	kinds := make([]string, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&b, "  kind %s: %d\n", k, s.ByKind[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

func newCacheStatsCommand(opts *CacheOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show what the seed cache holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    opts.Root.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Root.Verbose,
			}

			path, err := opts.cachePath()
			if err != nil {
				formatter.Error(ErrCodeNotFound, err.Error(), nil)
				return err
			}
			store, err := seed.Open(path)
			if err != nil {
				formatter.Error(ErrCodeCacheOpen, err.Error(), nil)
				return WrapExitError(ExitCommandError, "seed cache failed to open", err)
			}
			defer store.Close()

			total, err := store.Count()
			if err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitFailure, "seed cache stats failed", err)
			}
			byKind, err := store.CountByKind()
			if err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitFailure, "seed cache stats failed", err)
			}

			stats := cacheStats{Path: path, Events: total, ByKind: make(map[string]int, len(byKind))}
			for kind, n := range byKind {
				stats.ByKind[fmt.Sprintf("%d", kind)] = n
			}
			return formatter.Success(stats)
		},
	}
}
