package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tradeflow/internal/event"
	"github.com/roach88/tradeflow/internal/seed"
	"github.com/roach88/tradeflow/internal/trade"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	Root      *RootOptions
	Cache     string
	Canonical bool
}

// NewReplayCommand creates the replay command. It feeds recorded events
// through an offline engine and reports the reconstructed negotiation state.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{Root: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [event-file...]",
		Short: "Rebuild negotiation state from recorded events",
		Long:  "Feeds cached and recorded events through an offline engine, then prints the per-listing negotiation state. With --canonical the output is the deterministic snapshot serialization, byte-identical for any delivery order of the same events.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Cache, "cache", "", "seed cache to replay before the event files")
	cmd.Flags().BoolVar(&opts.Canonical, "canonical", false, "print the canonical snapshot instead of a summary")

	return cmd
}

func runReplay(cmd *cobra.Command, args []string, opts *ReplayOptions) error {
	formatter := &OutputFormatter{
		Format:    opts.Root.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Root.Verbose,
	}

	cfg, err := LoadConfig(opts.Root.Config)
	if err != nil {
		formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return err
	}
	cachePath := opts.Cache
	if cachePath == "" {
		cachePath = cfg.Cache
	}

	var events []*event.Event
	if cachePath != "" {
		store, err := seed.Open(cachePath)
		if err != nil {
			formatter.Error(ErrCodeCacheOpen, err.Error(), nil)
			return WrapExitError(ExitCommandError, "seed cache failed to open", err)
		}
		defer store.Close()

		cached, err := store.LoadKinds(cfg.Kinds)
		if err != nil {
			formatter.Error(ErrCodeCacheOpen, err.Error(), nil)
			return WrapExitError(ExitCommandError, "seed cache failed to load", err)
		}
		formatter.VerboseLog("loaded %d cached events from %s", len(cached), cachePath)
		events = append(events, cached...)
	}

	for _, path := range args {
		fromFile, err := LoadEvents(path)
		if err != nil {
			formatter.Error(ErrCodeBadEvents, err.Error(), nil)
			return err
		}
		formatter.VerboseLog("loaded %d events from %s", len(fromFile), path)
		events = append(events, fromFile...)
	}

	if len(events) == 0 {
		err := NewExitError(ExitCommandError, "nothing to replay: no cache and no event files")
		formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return err
	}

	engineOpts := []trade.Option{}
	if len(cfg.Kinds) > 0 {
		engineOpts = append(engineOpts, trade.WithKinds(cfg.Kinds))
	}
	if len(cfg.Authors) > 0 {
		engineOpts = append(engineOpts, trade.WithAuthors(cfg.Authors))
	}

	svc := trade.New(nil, engineOpts...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(context.Background())
	}()

	for _, ev := range events {
		svc.OnEvent(ev)
	}
	svc.Flush()

	var result error
	if opts.Canonical {
		data, err := trade.MarshalCanonical(svc.Snapshot())
		if err != nil {
			formatter.Error(ErrCodeGeneric, err.Error(), nil)
			result = WrapExitError(ExitFailure, "snapshot serialization failed", err)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
		}
	} else {
		result = formatter.Success(buildReport(svc, len(events)))
	}

	svc.Destroy()
	<-done
	return result
}

type listingSummary struct {
	ListingID string         `json:"listing_id"`
	Orders    int            `json:"orders"`
	Pending   int            `json:"pending"`
	Stages    map[string]int `json:"stages"`
}

type replayReport struct {
	EventsReplayed int              `json:"events_replayed"`
	Listings       []listingSummary `json:"listings"`
}

func (r replayReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "replayed %d events across %d listings\n", r.EventsReplayed, len(r.Listings))
	for _, l := range r.Listings {
		fmt.Fprintf(&b, "  %s: %d confirmed, %d pending", l.ListingID, l.Orders, l.Pending)
		if len(l.Stages) > 0 {
			stages := make([]string, 0, len(l.Stages))
			for name := range l.Stages {
				stages = append(stages, name)
			}
			sort.Strings(stages)
			parts := make([]string, 0, len(stages))
			for _, name := range stages {
				parts = append(parts, fmt.Sprintf("%s=%d", name, l.Stages[name]))
			}
			fmt.Fprintf(&b, " [%s]", strings.Join(parts, " "))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func buildReport(svc *trade.FlowService, replayed int) replayReport {
	report := replayReport{EventsReplayed: replayed}

	listings := svc.Listings()
	ids := make([]string, 0, len(listings))
	for id := range listings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		lb := listings[id]
		summary := listingSummary{
			ListingID: id,
			Orders:    len(lb.Orders),
			Pending:   len(lb.PendingOrders),
			Stages:    make(map[string]int),
		}
		for _, ob := range lb.Orders {
			for stage, evs := range ob.Results {
				summary.Stages[stage.String()] += len(evs)
			}
		}
		if len(summary.Stages) == 0 {
			summary.Stages = nil
		}
		report.Listings = append(report.Listings, summary)
	}
	return report
}
