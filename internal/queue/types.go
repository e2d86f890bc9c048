package queue

import (
	"encoding/json"

	"github.com/alaamer12/pixcrawler/internal/interfaces"
)

// envelope is the wire shape of one queued task. Payloads are primitives
// only; nothing in-process ever crosses the queue.
type envelope struct {
	TaskName string                 `json:"task_name"`
	Payload  interfaces.TaskPayload `json:"payload"`
	// Attempt counts task-layer re-queues of this unit of work (0 = first).
	Attempt int `json:"attempt"`
	// OriginTaskID preserves the identifier handed out at first enqueue so
	// re-queued executions keep reporting under the id the orchestrator
	// recorded.
	OriginTaskID string `json:"origin_task_id,omitempty"`
}

func (e *envelope) encode() ([]byte, error) {
	return json.Marshal(e)
}

func decodeEnvelope(data []byte) (*envelope, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Task is what a registered task body receives: the task's recorded
// identifier, its name, the primitive payload and the re-queue attempt.
type Task struct {
	ID      string
	Name    string
	Payload interfaces.TaskPayload
	Attempt int
}
