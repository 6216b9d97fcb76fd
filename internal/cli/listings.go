package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tradeflow/internal/catalog"
	"github.com/roach88/tradeflow/internal/event"
	"github.com/roach88/tradeflow/internal/seed"
)

// ListingsOptions holds flags for the listings command.
type ListingsOptions struct {
	Root  *RootOptions
	Cache string
}

// NewListingsCommand creates the listings command: a latest-wins catalog
// view over cached and recorded listing events.
func NewListingsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListingsOptions{Root: rootOpts}

	cmd := &cobra.Command{
		Use:   "listings [event-file...]",
		Short: "Show the newest version of every listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListings(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Cache, "cache", "", "seed cache to read listings from")

	return cmd
}

func runListings(cmd *cobra.Command, args []string, opts *ListingsOptions) error {
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

	manager := catalog.NewListingManager()

	if cachePath != "" {
		store, err := seed.Open(cachePath)
		if err != nil {
			formatter.Error(ErrCodeCacheOpen, err.Error(), nil)
			return WrapExitError(ExitCommandError, "seed cache failed to open", err)
		}
		defer store.Close()

		cached, err := store.LoadKinds([]int{event.KindListing})
		if err != nil {
			formatter.Error(ErrCodeCacheOpen, err.Error(), nil)
			return WrapExitError(ExitCommandError, "seed cache failed to load", err)
		}
		seedEvents := make([]event.Event, 0, len(cached))
		for _, ev := range cached {
			seedEvents = append(seedEvents, *ev)
		}
		manager.InitFromSeed(seedEvents)
	}

	for _, path := range args {
		fromFile, err := LoadEvents(path)
		if err != nil {
			formatter.Error(ErrCodeBadEvents, err.Error(), nil)
			return err
		}
		for _, ev := range fromFile {
			manager.OnEvent(ev)
		}
	}

	return formatter.Success(listingsReport{Listings: renderListings(manager)})
}

type listingRow struct {
	DTag     string `json:"d_tag"`
	Title    string `json:"title"`
	Price    string `json:"price,omitempty"`
	Currency string `json:"currency,omitempty"`
	Author   string `json:"author"`
	EventID  string `json:"event_id"`
}

type listingsReport struct {
	Listings []listingRow `json:"listings"`
}

func (r listingsReport) String() string {
	if len(r.Listings) == 0 {
		return "no listings"
	}
	var b strings.Builder
	for _, l := range r.Listings {
		fmt.Fprintf(&b, "%s\t%s", l.DTag, l.Title)
		if l.Price != "" {
			fmt.Fprintf(&b, "\t%s %s", l.Price, l.Currency)
		}
		fmt.Fprintf(&b, "\t(%s)\n", l.Author)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderListings(m *catalog.ListingManager) []listingRow {
	items := m.List()
	rows := make([]listingRow, 0, len(items))
	for _, it := range items {
		rows = append(rows, listingRow{
			DTag:     it.Data.DTag,
			Title:    it.Data.Title,
			Price:    it.Data.Price,
			Currency: it.Data.Currency,
			Author:   it.Author,
			EventID:  it.ID,
		})
	}
	return rows
}
