package scheduler

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Kind identifies the handler a task is routed to.
type Kind string

const (
	TaskRecover     Kind = "recover"
	TaskParse       Kind = "parse"
	TaskExtractGPS  Kind = "extract_gps"
	TaskMapPreview  Kind = "map_preview"
	TaskStartExport Kind = "start_export"
	TaskConvertItem Kind = "convert_item"
	TaskFinalizeJob Kind = "finalize_job"
	TaskConvertLog  Kind = "convert_log"
)

// Task is one unit of work. Tasks travel through the queue as encoded
// payloads; everything a handler needs is carried in the task itself so
// a retry can re-run the stage from scratch.
type Task struct {
	ID      string `msgpack:"id"`
	Kind    Kind   `msgpack:"kind"`
	LogID   int64  `msgpack:"log_id,omitempty"`
	JobID   int64  `msgpack:"job_id,omitempty"`
	ItemID  int64  `msgpack:"item_id,omitempty"`
	Format  string `msgpack:"format,omitempty"`
	Attempt int    `msgpack:"attempt"`
}

// NewTask builds a first-attempt task with a fresh identifier.
func NewTask(kind Kind) Task {
	return Task{ID: uuid.New().String(), Kind: kind, Attempt: 1}
}

// Retry derives the next attempt of this task under a new identifier.
func (t Task) Retry() Task {
	next := t
	next.ID = uuid.New().String()
	next.Attempt = t.Attempt + 1
	return next
}

// Encode serializes the task for queue transport.
func (t Task) Encode() ([]byte, error) {
	data, err := msgpack.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}
	return data, nil
}

// DecodeTask deserializes a queue payload.
func DecodeTask(data []byte) (Task, error) {
	var t Task
	if err := msgpack.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("failed to decode task: %w", err)
	}
	return t, nil
}
