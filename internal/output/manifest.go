package output

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/overbench/overbench/internal/harness"
)

// WriteManifest records the run summary as a YAML manifest next to the
// benchmark artifacts, and returns the path written.
func WriteManifest(dir string, summary *harness.Summary) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("manifest dir: %w", err)
	}

	path := filepath.Join(dir, "run-"+summary.RunID+".yaml")
	data, err := yaml.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("manifest encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("manifest write: %w", err)
	}
	return path, nil
}
