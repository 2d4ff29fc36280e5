package reindex

import (
	"encoding/json"
	"fmt"
	"time"
)

const logTag = "[reindex]"

// Status is the operator or machine controlled state of an operation,
// orthogonal to the step it has reached.
type Status int

const (
	InProgress Status = iota
	Completed
	Failed
	Paused
	Cancelled
)

var statusNames = [...]string{"inProgress", "completed", "failed", "paused", "cancelled"}

// String returns the string representation of the Status.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return ""
	}
	return statusNames[s]
}

// MarshalJSON is the implementation of the Marshaler interface to marshal the Status.
func (s Status) MarshalJSON() ([]byte, error) {
	name := s.String()
	if name == "" {
		return nil, fmt.Errorf("invalid status passed: %d", s)
	}
	return json.Marshal(name)
}

// UnmarshalJSON is the implementation of the Unmarshaler interface to unmarshal the Status.
func (s *Status) UnmarshalJSON(bytes []byte) error {
	var name string
	if err := json.Unmarshal(bytes, &name); err != nil {
		return err
	}
	parsed, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus returns the Status named name.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("invalid status passed: %s", name)
}

// Step is the last step an operation completed. Steps are strictly ordered
// and each one is only reachable from its predecessor.
type Step int

const (
	Created                   Step = 0
	IndexGroupServicesStopped Step = 10
	Readonly                  Step = 20
	NewIndexCreated           Step = 30
	ReindexStarted            Step = 40
	ReindexCompleted          Step = 50
	AliasCreated              Step = 60
	IndexGroupServicesStarted Step = 70
)

// Steps lists every step in order.
var Steps = []Step{
	Created,
	IndexGroupServicesStopped,
	Readonly,
	NewIndexCreated,
	ReindexStarted,
	ReindexCompleted,
	AliasCreated,
	IndexGroupServicesStarted,
}

// String returns the string representation of the Step.
func (s Step) String() string {
	switch s {
	case Created:
		return "created"
	case IndexGroupServicesStopped:
		return "indexGroupServicesStopped"
	case Readonly:
		return "readonly"
	case NewIndexCreated:
		return "newIndexCreated"
	case ReindexStarted:
		return "reindexStarted"
	case ReindexCompleted:
		return "reindexCompleted"
	case AliasCreated:
		return "aliasCreated"
	case IndexGroupServicesStarted:
		return "indexGroupServicesStarted"
	}
	return ""
}

// MarshalJSON is the implementation of the Marshaler interface to marshal the Step.
func (s Step) MarshalJSON() ([]byte, error) {
	name := s.String()
	if name == "" {
		return nil, fmt.Errorf("invalid step passed: %d", s)
	}
	return json.Marshal(name)
}

// UnmarshalJSON is the implementation of the Unmarshaler interface to unmarshal the Step.
func (s *Step) UnmarshalJSON(bytes []byte) error {
	var name string
	if err := json.Unmarshal(bytes, &name); err != nil {
		return err
	}
	for _, step := range Steps {
		if step.String() == name {
			*s = step
			return nil
		}
	}
	return fmt.Errorf("invalid step passed: %s", name)
}

// Operation is the persistent record tracking the migration of a single
// index into a newly created one.
type Operation struct {
	// ID identifies the record in the store.
	ID string `json:"id"`
	// Version is the store's optimistic concurrency token. For
	// elasticsearch it is "<seq_no>:<primary_term>".
	Version string `json:"-"`

	IndexName               string     `json:"indexName"`
	NewIndexName            string     `json:"newIndexName"`
	Status                  Status     `json:"status"`
	LastCompletedStep       Step       `json:"lastCompletedStep"`
	ReindexTaskID           string     `json:"reindexTaskId,omitempty"`
	ReindexTaskPercComplete float64    `json:"reindexTaskPercComplete"`
	ErrorMessage            string     `json:"errorMessage,omitempty"`
	Locked                  *time.Time `json:"locked"`
}

// NewOperation returns a fresh operation for indexName at the created step.
func NewOperation(indexName string) (*Operation, error) {
	newIndexName, err := NewIndexName(indexName)
	if err != nil {
		return nil, err
	}
	return &Operation{
		IndexName:         indexName,
		NewIndexName:      newIndexName,
		Status:            InProgress,
		LastCompletedStep: Created,
	}, nil
}

// Clone returns a copy of the operation that shares no memory with op.
func (op *Operation) Clone() *Operation {
	c := *op
	if op.Locked != nil {
		t := *op.Locked
		c.Locked = &t
	}
	return &c
}

// IsActive reports whether the operation blocks new operations for its index.
func (op *Operation) IsActive() bool {
	return op.Status != Failed && op.Status != Cancelled
}

// IndexGroup is a logical group of indices whose dependent service has to be
// paused while any member index is being reindexed.
type IndexGroup string

const (
	MLGroup      IndexGroup = "ml"
	WatcherGroup IndexGroup = "watcher"
)

var (
	mlIndices      = []string{".ml-state", ".ml-anomalies", ".ml-config"}
	watcherIndices = []string{".watches", ".triggered-watches"}
)

// GroupOf returns the index group the index belongs to, resolving any
// previous reindex rename first. ok is false for unrecognized indices.
func GroupOf(indexName string) (group IndexGroup, ok bool) {
	source := SourceNameForIndex(indexName)
	for _, name := range mlIndices {
		if name == source {
			return MLGroup, true
		}
	}
	for _, name := range watcherIndices {
		if name == source {
			return WatcherGroup, true
		}
	}
	return "", false
}

// IndexGroupCounter is the persistent counter of running reindex operations
// for an index group.
type IndexGroupCounter struct {
	Group               IndexGroup `json:"group"`
	Version             string     `json:"-"`
	RunningReindexCount int        `json:"runningReindexCount"`
	Locked              *time.Time `json:"locked"`
}

// Clone returns a copy of the counter that shares no memory with c.
func (c *IndexGroupCounter) Clone() *IndexGroupCounter {
	n := *c
	if c.Locked != nil {
		t := *c.Locked
		n.Locked = &t
	}
	return &n
}
