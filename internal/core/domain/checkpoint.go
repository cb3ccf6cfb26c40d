package domain

import (
	"fmt"
	"time"
)

// Checkpoint is the persisted progress of one workflow run, written after
// every stage.
type Checkpoint struct {
	ThreadID  string          `json:"thread_id"`
	RunID     string          `json:"run_id"`
	Step      int             `json:"step"`
	Completed Stage           `json:"completed"`
	Next      Stage           `json:"next"`
	State     AssessmentState `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}

// Done reports whether the run reached the terminal stage.
func (c Checkpoint) Done() bool { return c.Next == StageDone }

// ThreadID returns the checkpoint key for a vulnerability.
func ThreadID(cveID string) string {
	return fmt.Sprintf("thread_%s", cveID)
}

// StageEvent is published after each workflow step for observers such as
// the websocket hub.
type StageEvent struct {
	RunID     string    `json:"run_id"`
	CVEID     string    `json:"cve_id"`
	Step      int       `json:"step"`
	Stage     Stage     `json:"stage"`
	Next      Stage     `json:"next"`
	Errors    int       `json:"error_count"`
	Reflexion int       `json:"reflexion_count"`
	Timestamp time.Time `json:"timestamp"`
}
