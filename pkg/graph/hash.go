package graph

import (
	"crypto/sha256"
	"fmt"
	"sort"
)

// ComputeTaskHash computes a hash for a task including its dependencies and its
// declared outputs
func ComputeTaskHash(task Task) string {
	h := sha256.New()

	h.Write([]byte(task.Hash()))

	// Declared outputs are part of the configuration: a new output must trigger a run
	outputPaths := task.Outputs().Snapshot().Paths()
	sort.Strings(outputPaths)
	for _, p := range outputPaths {
		h.Write([]byte(p))
	}

	// Add dependency hashes (sorted for consistency)
	var depHashes []string
	for _, dep := range task.Dependencies() {
		depHashes = append(depHashes, ComputeTaskHash(dep))
	}
	sort.Strings(depHashes)

	for _, depHash := range depHashes {
		h.Write([]byte(depHash))
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}
