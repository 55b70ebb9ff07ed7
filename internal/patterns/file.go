package patterns

import (
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// fileFormat is the on-disk layout of a pattern file. JSON files parse too,
// since JSON is a subset of YAML.
type fileFormat struct {
	Patterns []Entry `yaml:"patterns"`
}

// LoadFile reads a pattern table from path on fs.
func LoadFile(fs afero.Fs, path string) (*Table, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file %s: %w", path, err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse pattern file %s: %w", path, err)
	}
	if len(f.Patterns) == 0 {
		return nil, fmt.Errorf("pattern file %s defines no patterns", path)
	}

	return New(f.Patterns...)
}
