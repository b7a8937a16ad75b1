package solvers

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// writeArtifact stores a solver metadata document next to the other run
// outputs. Keys marshal in sorted order.
func writeArtifact(dir, name string, payload map[string]any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return IOf(err, "Unable to write %s.", name)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return IOf(err, "Unable to write %s.", name)
	}
	return nil
}
