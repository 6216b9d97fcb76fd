package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderFlowFixture = `
events:
  - id: listing-1
    kind: 30402
    author: seller
    published_at: 2026-01-01T00:00:00Z
    data:
      d_tag: widget
      title: Widget
  - id: req-1
    kind: 5800
    author: buyer
    published_at: 2026-01-01T00:00:01Z
    tags:
      - ["e", "listing-1"]
      - ["i", "listing-1", "event", "listing"]
  - id: order-1
    kind: 6800
    author: seller
    published_at: 2026-01-01T00:00:02Z
    tags:
      - ["e", "req-1"]
`

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestReplayCommand_JSONReport(t *testing.T) {
	fixture := writeFile(t, "events.yaml", orderFlowFixture)

	out, err := runCommand(t, "replay", fixture, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   replayReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Data.EventsReplayed)
	require.Len(t, resp.Data.Listings, 1)
	assert.Equal(t, "listing-1", resp.Data.Listings[0].ListingID)
	assert.Equal(t, 1, resp.Data.Listings[0].Orders)
	assert.Equal(t, 0, resp.Data.Listings[0].Pending)
	assert.Equal(t, 1, resp.Data.Listings[0].Stages["Order"])
}

func TestReplayCommand_CanonicalIsOrderIndependent(t *testing.T) {
	forward := writeFile(t, "forward.yaml", orderFlowFixture)

	// Same events, reversed file order.
	reversed := writeFile(t, "reversed.yaml", `
events:
  - id: order-1
    kind: 6800
    author: seller
    published_at: 2026-01-01T00:00:02Z
    tags:
      - ["e", "req-1"]
  - id: req-1
    kind: 5800
    author: buyer
    published_at: 2026-01-01T00:00:01Z
    tags:
      - ["e", "listing-1"]
      - ["i", "listing-1", "event", "listing"]
  - id: listing-1
    kind: 30402
    author: seller
    published_at: 2026-01-01T00:00:00Z
    data:
      d_tag: widget
      title: Widget
`)

	a, err := runCommand(t, "replay", forward, "--canonical")
	require.NoError(t, err)
	b, err := runCommand(t, "replay", reversed, "--canonical")
	require.NoError(t, err)

	assert.Equal(t, a, b, "canonical snapshots must not depend on delivery order")
	assert.Contains(t, a, `"order-1"`)
}

func TestReplayCommand_NothingToReplay(t *testing.T) {
	_, err := runCommand(t, "replay")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayCommand_WithCache(t *testing.T) {
	fixture := writeFile(t, "events.yaml", orderFlowFixture)
	cache := filepath.Join(t.TempDir(), "seed.db")

	_, err := runCommand(t, "cache", "import", fixture, "--cache", cache)
	require.NoError(t, err)

	out, err := runCommand(t, "replay", "--cache", cache, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data replayReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Listings, 1)
	assert.Equal(t, 1, resp.Data.Listings[0].Orders)
}

func TestListingsCommand(t *testing.T) {
	fixture := writeFile(t, "events.yaml", orderFlowFixture)

	out, err := runCommand(t, "listings", fixture, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data listingsReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Listings, 1)
	assert.Equal(t, "widget", resp.Data.Listings[0].DTag)
	assert.Equal(t, "Widget", resp.Data.Listings[0].Title)
}

func TestCacheStatsCommand(t *testing.T) {
	fixture := writeFile(t, "events.yaml", orderFlowFixture)
	cache := filepath.Join(t.TempDir(), "seed.db")

	_, err := runCommand(t, "cache", "import", fixture, "--cache", cache)
	require.NoError(t, err)

	out, err := runCommand(t, "cache", "stats", "--cache", cache, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data cacheStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 3, resp.Data.Events)
	assert.Equal(t, 1, resp.Data.ByKind["30402"])
}

func TestRootCommand_RejectsBadFormat(t *testing.T) {
	_, err := runCommand(t, "replay", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
