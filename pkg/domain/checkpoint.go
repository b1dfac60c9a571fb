package domain

import (
	"fmt"
	"time"
)

// CheckpointSource records what produced a checkpoint.
type CheckpointSource string

const (
	SourceInput     CheckpointSource = "input"     // initial state of a thread
	SourceLoop      CheckpointSource = "loop"      // a node completed normally
	SourceInterrupt CheckpointSource = "interrupt" // a node suspended the thread
	SourceResume    CheckpointSource = "resume"    // a resume value was injected
)

// Interrupt describes why a thread is parked.
type Interrupt struct {
	Node    string `json:"node"`
	Payload any    `json:"payload"`
}

// Question renders the payload as the text shown to the human.
func (i *Interrupt) Question() string {
	if i == nil || i.Payload == nil {
		return ""
	}
	if s, ok := i.Payload.(string); ok {
		return s
	}
	return fmt.Sprint(i.Payload)
}

// Checkpoint is an immutable snapshot of a thread after a step.
type Checkpoint struct {
	ID       string           `json:"id"`
	ThreadID string           `json:"thread_id"`
	Step     int              `json:"step"`
	Source   CheckpointSource `json:"source"`
	// Node is the node whose completion produced this checkpoint (empty for input/resume).
	Node string `json:"node,omitempty"`
	// Next is the node to execute next, or EndNode.
	Next        string     `json:"next"`
	State       State      `json:"state"`
	Interrupt   *Interrupt `json:"interrupt,omitempty"`
	ResumeValue any        `json:"resume_value,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Terminal reports whether the thread has reached the end of the graph.
func (c *Checkpoint) Terminal() bool {
	return c.Next == EndNode
}

// Suspended reports whether the thread is waiting for a resume value.
func (c *Checkpoint) Suspended() bool {
	return c.Source == SourceInterrupt
}

// RunStatus is the outcome of a Start or Resume call.
type RunStatus string

const (
	StatusSuspended RunStatus = "suspended"
	StatusCompleted RunStatus = "completed"
)

// RunResult is returned by the runner when it stops executing a thread.
type RunResult struct {
	ThreadID     string    `json:"thread_id"`
	Status       RunStatus `json:"status"`
	Question     string    `json:"question,omitempty"`
	Payload      any       `json:"payload,omitempty"`
	State        State     `json:"state"`
	CheckpointID string    `json:"checkpoint_id"`
	Step         int       `json:"step"`
}

// Suspended reports whether the thread is waiting for input.
func (r *RunResult) Suspended() bool { return r.Status == StatusSuspended }

// ResultFromCheckpoint builds the result matching a stored checkpoint.
func ResultFromCheckpoint(cp *Checkpoint) *RunResult {
	res := &RunResult{
		ThreadID:     cp.ThreadID,
		Status:       StatusCompleted,
		State:        cp.State.Clone(),
		CheckpointID: cp.ID,
		Step:         cp.Step,
	}
	if cp.Suspended() {
		res.Status = StatusSuspended
		res.Question = cp.Interrupt.Question()
		res.Payload = cp.Interrupt.Payload
	}
	return res
}
