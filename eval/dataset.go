package eval

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bbiangul/agrokg/retrieval"
)

// Query modes a test case can exercise.
const (
	ModeHybrid     = "hybrid"
	ModeVector     = "vector"
	ModeStructured = "structured"
)

// Dataset is a collection of retrieval test cases.
type Dataset struct {
	Name  string     `json:"name" yaml:"name"`
	Tests []TestCase `json:"tests" yaml:"tests"`
}

// TestCase defines a single evaluation query. Expected holds registration
// numbers for hybrid and structured cases and document source ids for
// vector cases.
type TestCase struct {
	Query    string             `json:"query,omitempty" yaml:"query,omitempty"`
	Mode     string             `json:"mode" yaml:"mode"`
	Filters  *retrieval.Filters `json:"filters,omitempty" yaml:"filters,omitempty"`
	K        int                `json:"k,omitempty" yaml:"k,omitempty"`
	Expected []string           `json:"expected" yaml:"expected"`
	Category string             `json:"category,omitempty" yaml:"category,omitempty"`
}

// LoadDataset reads a YAML dataset:
//
//	name: wheat weeds
//	tests:
//	  - query: ryegrass in wheat
//	    mode: hybrid
//	    expected: ["12345"]
func LoadDataset(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("reading dataset: %w", err)
	}
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return Dataset{}, fmt.Errorf("decoding dataset: %w", err)
	}
	if err := ds.Validate(); err != nil {
		return Dataset{}, err
	}
	return ds, nil
}

// Validate checks every case. An empty mode means hybrid.
func (d *Dataset) Validate() error {
	if len(d.Tests) == 0 {
		return fmt.Errorf("dataset %q has no tests", d.Name)
	}
	for i := range d.Tests {
		tc := &d.Tests[i]
		tc.Mode = strings.ToLower(strings.TrimSpace(tc.Mode))
		if tc.Mode == "" {
			tc.Mode = ModeHybrid
		}
		switch tc.Mode {
		case ModeHybrid, ModeVector:
			if strings.TrimSpace(tc.Query) == "" {
				return fmt.Errorf("test %d: query is required for %s mode", i, tc.Mode)
			}
		case ModeStructured:
			if tc.Filters == nil {
				return fmt.Errorf("test %d: filters are required for structured mode", i)
			}
		default:
			return fmt.Errorf("test %d: unknown mode %q", i, tc.Mode)
		}
		if len(tc.Expected) == 0 {
			return fmt.Errorf("test %d: expected is empty", i)
		}
	}
	return nil
}
