package cli

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tradeflow/internal/event"
)

// Config is the optional engine configuration file.
type Config struct {
	Kinds   []int         `yaml:"kinds"`
	Authors []string      `yaml:"authors"`
	Timeout time.Duration `yaml:"timeout"`
	Cache   string        `yaml:"cache"`
}

// LoadConfig reads a YAML config file. A missing path returns the zero
// config rather than an error.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, WrapExitError(ExitCommandError, "config not readable", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, WrapExitError(ExitCommandError, "config failed to parse", err)
	}
	return cfg, nil
}

// fileEvent is the on-disk event shape. YAML carries JSON fixtures too.
type fileEvent struct {
	ID          string         `yaml:"id"`
	Kind        int            `yaml:"kind"`
	Author      string         `yaml:"author"`
	PublishedAt time.Time      `yaml:"published_at"`
	Tags        [][]string     `yaml:"tags"`
	Data        map[string]any `yaml:"data"`
}

type eventFile struct {
	Events []fileEvent `yaml:"events"`
}

// LoadEvents reads an event fixture file (YAML or JSON) into domain events,
// preserving file order.
func LoadEvents(path string) ([]*event.Event, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("event file not readable: %s", path), err)
	}

	var file eventFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("event file failed to parse: %s", path), err)
	}

	out := make([]*event.Event, 0, len(file.Events))
	for i, fe := range file.Events {
		if fe.ID == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("event %d in %s has no id", i, path))
		}
		tags := make([]event.Tag, 0, len(fe.Tags))
		for _, t := range fe.Tags {
			tags = append(tags, event.Tag(t))
		}
		out = append(out, &event.Event{
			ID:          fe.ID,
			Kind:        fe.Kind,
			Author:      fe.Author,
			PublishedAt: fe.PublishedAt.UTC(),
			Tags:        tags,
			Data:        fe.Data,
		})
	}
	return out, nil
}
