// Package dpp implements the asynchronous "discover digital product
// passport" workflow: parse the product identifier, discover the owning
// business partners, locate the twin, and fetch the passport submodel. Each
// run is observable through a task snapshot.
package dpp

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// Task statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Workflow steps with their progress marks.
const (
	StepParsing           = "parsing"             // 10
	StepDiscoveringBPN    = "discovering_bpn"     // 25
	StepRetrievingTwin    = "retrieving_twin"     // 50
	StepLookingUpSubmodel = "looking_up_submodel" // 70
	StepConsumingData     = "consuming_data"      // 85
	StepComplete          = "complete"            // 100
)

// Snapshot is the externally visible state of a task. Readers may observe
// any intermediate tuple; progress is monotone.
type Snapshot struct {
	TaskID      string                `json:"taskId"`
	Status      string                `json:"status"`
	Step        string                `json:"step"`
	Progress    int                   `json:"progress"`
	Message     string                `json:"message,omitempty"`
	Error       string                `json:"error,omitempty"`
	CreatedAt   time.Time             `json:"createdAt"`
	DigitalTwin types.ShellDescriptor `json:"digitalTwin,omitempty"`
	Data        any                   `json:"data,omitempty"`
}

// Task is one workflow run. Updates are serialised by the task's own lock;
// snapshots are deep copies.
type Task struct {
	mu       sync.Mutex
	snapshot Snapshot
}

// ID returns the task id.
func (t *Task) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot.TaskID
}

// Snapshot returns a copy of the current state.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return types.DeepCopyJSON(t.snapshot)
}

// Advance moves the task to a step. Progress never regresses: a lower value
// than the current one is ignored.
func (t *Task) Advance(step, message string, progress int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot.Step = step
	t.snapshot.Message = message
	if progress > t.snapshot.Progress {
		t.snapshot.Progress = progress
	}
}

// Fail terminates the task, preserving the step at which the failure
// occurred and recording the cause.
func (t *Task) Fail(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot.Status = StatusFailed
	t.snapshot.Error = message
	t.snapshot.Message = "Discovery failed: " + message
}

// Complete terminates the task successfully, attaching the twin and payload.
func (t *Task) Complete(twin types.ShellDescriptor, data any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot.Status = StatusCompleted
	t.snapshot.Step = StepComplete
	t.snapshot.Progress = 100
	t.snapshot.Message = ""
	t.snapshot.DigitalTwin = twin
	t.snapshot.Data = data
}

// TaskStore holds every task by id. The core never evicts; reaping is an
// operational concern.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewTaskStore creates an empty task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: map[string]*Task{}}
}

// Create registers a new task in its initial state.
func (s *TaskStore) Create() *Task {
	task := &Task{snapshot: Snapshot{
		TaskID:    uuid.NewString(),
		Status:    StatusInProgress,
		Step:      StepParsing,
		Progress:  0,
		CreatedAt: time.Now().UTC(),
	}}
	s.mu.Lock()
	s.tasks[task.snapshot.TaskID] = task
	s.mu.Unlock()
	return task
}

// Get returns the task with the given id.
func (s *TaskStore) Get(taskID string) (*Task, bool) {
	s.mu.RLock()
	task, ok := s.tasks[taskID]
	s.mu.RUnlock()
	return task, ok
}

// Len returns the number of stored tasks.
func (s *TaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
