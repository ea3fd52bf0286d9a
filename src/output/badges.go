package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sofmeright/dockrun/src/badge"
	"github.com/sofmeright/dockrun/src/runner"
)

// WriteRunBadges writes one <job>.svg status badge per result into dir.
func WriteRunBadges(dir string, results []runner.JobResult) error {
	metrics, err := badge.DefaultMetrics()
	if err != nil {
		return err
	}
	engine := badge.New(metrics)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating badge dir: %w", err)
	}
	for _, jr := range results {
		status, _ := summarize(jr)
		svg := engine.Generate(badge.Badge{
			Label: jr.Job,
			Value: status,
			Color: badge.StatusColor(status),
		})
		path := filepath.Join(dir, jr.Job+".svg")
		if err := os.WriteFile(path, []byte(svg), 0o644); err != nil {
			return fmt.Errorf("writing badge: %w", err)
		}
	}
	return nil
}
