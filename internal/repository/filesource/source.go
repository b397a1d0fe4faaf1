// Package filesource reads symbol ranges from a local YAML file.
package filesource

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source maps range names to symbol lists:
//
//	ranges:
//	  premarket: [AAPL, MSFT]
//	  post: |
//	    NVDA
//	    AMD
//
// A range may be a YAML list or a newline separated block.
type Source struct {
	path string
}

// New returns a source over the file at path. The file is read on every call.
func New(path string) *Source {
	return &Source{path: path}
}

type document struct {
	Ranges map[string]yaml.Node `yaml:"ranges"`
}

// ReadSymbols returns the trimmed, non-empty entries of rng.
func (s *Source) ReadSymbols(ctx context.Context, rng string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read symbols file: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse symbols file: %w", err)
	}
	node, ok := doc.Ranges[rng]
	if !ok {
		return nil, fmt.Errorf("range %q not found in %s", rng, s.path)
	}

	var raw []string
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&raw); err != nil {
			return nil, fmt.Errorf("range %q: %w", rng, err)
		}
	case yaml.ScalarNode:
		raw = strings.Split(node.Value, "\n")
	default:
		return nil, fmt.Errorf("range %q must be a list or a block of lines", rng)
	}

	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if v := strings.TrimSpace(r); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}
