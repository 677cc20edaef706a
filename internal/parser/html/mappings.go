package html

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

// Mapping is one extraction rule: the nodes matched by Selector produce the
// value of Column.
type Mapping struct {
	Selector string `json:"selector" mapstructure:"selector"`
	// Extract is "text" (default), "attr" or "html".
	Extract string `json:"extract" mapstructure:"extract"`
	Attr    string `json:"attr,omitempty" mapstructure:"attr"`
	Column  string `json:"column" mapstructure:"column"`
	// Match is an optional regex filter applied to the extracted value.
	Match string `json:"match,omitempty" mapstructure:"match"`
	// All collects every match into a list.
	All bool `json:"all,omitempty" mapstructure:"all"`
}

// MappingFile is the on-disk form of a set of mappings.
type MappingFile struct {
	// RecordSelector switches to record mode when set.
	RecordSelector string    `json:"record_selector,omitempty" mapstructure:"record_selector"`
	Mappings       []Mapping `json:"mappings" mapstructure:"mappings"`
}

// LoadMappingFile reads and validates a JSON mapping file.
func LoadMappingFile(path string) (*MappingFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mappings file: %w", err)
	}

	var mf MappingFile
	if err := json.Unmarshal(b, &mf); err != nil {
		return nil, fmt.Errorf("parse mappings json: %w", err)
	}
	if len(mf.Mappings) == 0 {
		return nil, fmt.Errorf("mappings file %s has no mappings", path)
	}
	return &mf, nil
}

type compiled struct {
	Mapping
	re *regexp.Regexp
}

// compile validates mappings and compiles their Match patterns once.
func compile(mappings []Mapping) ([]compiled, error) {
	out := make([]compiled, 0, len(mappings))
	for i, m := range mappings {
		if strings.TrimSpace(m.Selector) == "" || strings.TrimSpace(m.Column) == "" {
			return nil, fmt.Errorf("html: mapping %d: selector and column are required", i)
		}
		switch m.Extract {
		case "", "text", "html":
		case "attr":
			if m.Attr == "" {
				return nil, fmt.Errorf("html: mapping %q: extract=attr needs attr", m.Column)
			}
		default:
			return nil, fmt.Errorf("html: mapping %q: unknown extract %q", m.Column, m.Extract)
		}

		c := compiled{Mapping: m}
		if strings.TrimSpace(m.Match) != "" {
			re, err := regexp.Compile(m.Match)
			if err != nil {
				return nil, fmt.Errorf("html: invalid regex for column %q: %w", m.Column, err)
			}
			c.re = re
		}
		out = append(out, c)
	}
	return out, nil
}
