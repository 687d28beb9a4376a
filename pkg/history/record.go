package history

import (
	"time"

	"fbs/pkg/outputs"
)

// Record is what a successful execution leaves behind for the next build
type Record struct {
	// TaskID identifies the task the record belongs to
	TaskID string `json:"task_id"`
	// ConfigHash is the task hash including dependencies at the time of execution
	ConfigHash string `json:"config_hash"`
	// Outputs are the canonical paths the task declared before it started
	Outputs []string `json:"outputs"`
	// LateOutputs were declared while the task was executing. They are fingerprinted
	// but a freshly configured task does not declare them.
	LateOutputs []string `json:"late_outputs,omitempty"`
	// Fingerprints maps every output file, late ones included, to its content hash
	Fingerprints map[string]string `json:"fingerprints,omitempty"`
	ExecutedAt   time.Time         `json:"executed_at"`
}

// OutputFiles implements outputs.HistoryRecord
func (r *Record) OutputFiles() outputs.OutputSet {
	return outputs.NewOutputSet(r.Outputs...)
}
