// Package config loads the watch configuration from YAML into a typed tree.
//
// The on-disk shape is a mapping of watched directory to watch entry:
//
//	/srv/incoming:
//	  name: Incoming files
//	  recurse: false
//	  local_tz: US/Eastern
//	  filemasks:
//	    data_YYYYMMDD.txt:
//	      actions:
//	        - process:
//	            cmd: /usr/local/bin/process
//	            args: [$filename, YYYYMMDD]
//	            start_time: "20:00:00"
//	            end_time: "21:00:00"
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
	_ "time/tzdata" // local_tz must resolve on hosts without zoneinfo

	"go.yaml.in/yaml/v3"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/cronify.yaml"

// ErrEmpty is returned when a configuration has no watch entries.
var ErrEmpty = errors.New("configuration is empty")

// Config maps a watched directory path to its watch entry.
type Config map[string]Watch

// Watch describes one watched directory.
type Watch struct {
	Name      string              `yaml:"name"`
	Recurse   bool                `yaml:"recurse"`
	LocalTZ   string              `yaml:"local_tz"`
	Ignore    []string            `yaml:"ignore"`
	Filemasks map[string]Filemask `yaml:"filemasks"`
}

// Filemask holds the actions triggered by one filemask.
type Filemask struct {
	Actions Actions `yaml:"actions"`
}

// Action is a single command invocation. Args is nil when the args key was
// absent; an explicit empty list is non-nil.
type Action struct {
	Name  string
	Cmd   string
	Args  []string
	Start *TimeOfDay
	End   *TimeOfDay
}

// HasWindow reports whether both ends of the time window are configured.
func (a Action) HasWindow() bool {
	return a.Start != nil && a.End != nil
}

// Actions is an ordered action list. In YAML every list item is a mapping
// of action label to action body; labels keep their document order.
type Actions []Action

type actionBody struct {
	Cmd       string     `yaml:"cmd"`
	Args      []string   `yaml:"args"`
	StartTime *TimeOfDay `yaml:"start_time"`
	EndTime   *TimeOfDay `yaml:"end_time"`
}

// UnmarshalYAML implements yaml.v3 Unmarshaler.
func (a *Actions) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: actions must be a list", value.Line)
	}

	out := make(Actions, 0, len(value.Content))
	for _, item := range value.Content {
		if item.Kind != yaml.MappingNode {
			return fmt.Errorf("line %d: action must be a mapping of label to action", item.Line)
		}
		for i := 0; i+1 < len(item.Content); i += 2 {
			label, body := item.Content[i], item.Content[i+1]

			var b actionBody
			if err := body.Decode(&b); err != nil {
				return fmt.Errorf("action %q: %w", label.Value, err)
			}
			if b.Args == nil {
				if n := lookup(body, "args"); n != nil && n.Kind == yaml.SequenceNode {
					b.Args = []string{}
				}
			}

			out = append(out, Action{
				Name:  label.Value,
				Cmd:   b.Cmd,
				Args:  b.Args,
				Start: b.StartTime,
				End:   b.EndTime,
			})
		}
	}
	*a = out
	return nil
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// Location returns the configured zone, or time.Local when unset.
func (w Watch) Location() (*time.Location, error) {
	if w.LocalTZ == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(w.LocalTZ)
	if err != nil {
		return nil, fmt.Errorf("invalid local_tz %q: %w", w.LocalTZ, err)
	}
	return loc, nil
}

// Paths returns the watched directories in sorted order.
func (c Config) Paths() []string {
	paths := make([]string, 0, len(c))
	for p := range c {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Parse decodes a YAML document.
func Parse(data []byte) (Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg) == 0 {
		return nil, ErrEmpty
	}
	return cfg, nil
}

// Load reads and decodes the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Source produces a configuration. Reloads call the same Source used at
// startup.
type Source func() (Config, error)

// FileSource returns a Source reading path on every call.
func FileSource(path string) Source {
	return func() (Config, error) {
		return Load(path)
	}
}

// Static returns a Source that always yields cfg.
func Static(cfg Config) Source {
	return func() (Config, error) {
		return cfg, nil
	}
}
