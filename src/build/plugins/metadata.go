package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sofmeright/dockrun/src/build"
	"github.com/sofmeright/dockrun/src/pipeline"
)

// addLabels merges the "labels" mapping into the build context.
func addLabels(_ context.Context, _ *build.Context, args *pipeline.Map) (*build.Contribution, error) {
	labels, err := stringMapArg(args, "labels")
	if err != nil {
		return nil, err
	}
	return &build.Contribution{Labels: labels}, nil
}

// storeMetadata writes the build context as JSON. The file name defaults
// to <build id>.json (or metadata.json) in the work dir; only the last
// element of the build id is used, so the default never leaves the dir.
type storeMetadata struct {
	dir string
}

func (p *storeMetadata) Run(_ context.Context, bc *build.Context, args *pipeline.Map) (*build.Contribution, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = "metadata.json"
		if name := filepath.Base(filepath.FromSlash(bc.BuildID)); bc.BuildID != "" && name != "." && name != ".." && name != string(filepath.Separator) {
			path = name + ".json"
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.dir, path)
	}

	data, err := json.MarshalIndent(bc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating metadata dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("writing metadata: %w", err)
	}
	return &build.Contribution{Artifacts: []string{path}}, nil
}
