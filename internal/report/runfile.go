// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/litfunnel/pkg/types"
)

// RunFile is the on-disk representation of a funnel run. A saved run can
// be reformatted later without querying the sources again.
type RunFile struct {
	Abstract  string              `yaml:"abstract"`
	Options   RunFileOptions      `yaml:"options"`
	Result    types.RankingResult `yaml:"result"`
	Timestamp time.Time           `yaml:"timestamp"`
}

// RunFileOptions stores the parameters that produced the result.
type RunFileOptions struct {
	MaxPapers        int              `yaml:"max_papers"`
	TitleSearchLimit int              `yaml:"title_search_limit"`
	Sources          []types.SourceID `yaml:"sources,omitempty"`
}

// WriteRunFile saves a run to a YAML file.
func WriteRunFile(path, abstract string, opts RunFileOptions, res types.RankingResult) error {
	rf := RunFile{
		Abstract:  abstract,
		Options:   opts,
		Result:    res,
		Timestamp: time.Now().UTC(),
	}
	data, err := yaml.Marshal(&rf)
	if err != nil {
		return fmt.Errorf("marshaling run file: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadRunFile loads a previously saved run file from disk.
func ReadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run file: %w", err)
	}
	var rf RunFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing run file: %w", err)
	}
	return &rf, nil
}
