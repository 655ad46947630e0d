package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meridianlabs/testorch/models"
)

// artifactSearchPaths lists the three conventional build-output locations
// the Runner tries, in order, for the first one that exists. No explicit
// artifact file path can be given.
func artifactSearchPaths(name string) []string {
	return []string{
		filepath.Join("artifacts", "contracts", name+".sol", name+".json"),
		filepath.Join("contracts", name+".json"),
		filepath.Join("build", "contracts", name+".json"),
	}
}

// loadArtifact reads the first artifact file found for name off disk and
// decodes its {abi, bytecode} pair. A "0x" (empty) bytecode is treated as
// deployment failure per spec.md §6.
func loadArtifact(name string) (models.Artifact, string, error) {
	for _, path := range artifactSearchPaths(name) {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var artifact models.Artifact
		if err := json.Unmarshal(data, &artifact); err != nil {
			return models.Artifact{}, "", fmt.Errorf("runner: parse artifact %s: %w", path, err)
		}
		if artifact.Bytecode == "" || artifact.Bytecode == "0x" {
			return models.Artifact{}, "", fmt.Errorf("runner: artifact %s has empty bytecode", path)
		}
		return artifact, path, nil
	}
	return models.Artifact{}, "", fmt.Errorf("runner: no artifact found for %q in any of %v", name, artifactSearchPaths(name))
}
