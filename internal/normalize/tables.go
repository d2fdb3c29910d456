package normalize

import (
	_ "embed"
	"fmt"
	"maps"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var defaultTablesYAML []byte

// Tables holds the substitution tables. A Tables value handed to New must not
// be modified afterwards.
type Tables struct {
	Circled   map[int]string    `yaml:"circled"`
	Fractions map[string]string `yaml:"fractions"`
	Symbols   map[string]string `yaml:"symbols"`
}

var defaultTables = sync.OnceValues(func() (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(defaultTablesYAML, &t); err != nil {
		return nil, fmt.Errorf("failed to parse embedded tables: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("embedded tables: %w", err)
	}
	return &t, nil
})

// DefaultTables returns a copy of the built-in tables.
func DefaultTables() *Tables {
	t, err := defaultTables()
	if err != nil {
		panic(err)
	}
	return t.clone()
}

// LoadTables returns the built-in tables overlaid with the entries of the YAML
// file at path. An empty path returns the defaults.
func LoadTables(path string) (*Tables, error) {
	base := DefaultTables()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied table file
	if err != nil {
		return nil, fmt.Errorf("failed to read tables file: %w", err)
	}
	var overlay Tables
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse tables file %s: %w", path, err)
	}
	maps.Copy(base.Circled, overlay.Circled)
	maps.Copy(base.Fractions, overlay.Fractions)
	maps.Copy(base.Symbols, overlay.Symbols)
	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("tables file %s: %w", path, err)
	}
	return base, nil
}

// Validate rejects entries that could not round-trip through the normalizer.
func (t *Tables) Validate() error {
	for n, v := range t.Circled {
		if n < 1 {
			return fmt.Errorf("circled number %d must be positive", n)
		}
		if err := checkReplacement(fmt.Sprintf("circled %d", n), v); err != nil {
			return err
		}
	}
	for k, v := range t.Fractions {
		num, den, ok := strings.Cut(k, "/")
		if !ok || num == "" || den == "" || strings.Contains(den, "/") {
			return fmt.Errorf("fraction key %q must look like a/b", k)
		}
		if err := checkReplacement("fraction "+k, v); err != nil {
			return err
		}
	}
	for k, v := range t.Symbols {
		if !strings.HasPrefix(k, `\`) && !strings.HasPrefix(k, "^") {
			return fmt.Errorf("symbol key %q must start with a backslash or caret", k)
		}
		if strings.ContainsAny(k, " \t\n$") {
			return fmt.Errorf("symbol key %q must be a single token", k)
		}
		if err := checkReplacement("symbol "+k, v); err != nil {
			return err
		}
	}
	return nil
}

func checkReplacement(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s: replacement must not be blank", name)
	}
	if strings.ContainsAny(v, "$\\`") {
		return fmt.Errorf("%s: replacement %q must not contain markup characters", name, v)
	}
	return nil
}

func (t *Tables) clone() *Tables {
	return &Tables{
		Circled:   maps.Clone(t.Circled),
		Fractions: maps.Clone(t.Fractions),
		Symbols:   maps.Clone(t.Symbols),
	}
}
