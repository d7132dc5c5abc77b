package models

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrServiceTypeAssigned = errors.New("service type already assigned")
	ErrTooManyOperations   = errors.New("too many operations for turn")
	ErrServiceRejected     = errors.New("worker cannot serve turn")
)

// Turn is one customer's place in line. ID, Priority and CreatedAt never
// change after NewTurn and may be read without locking; everything else goes
// through the mutex.
type Turn struct {
	ID         string
	Priority   Priority
	CustomerID string
	CardRef    string
	CreatedAt  time.Time

	mu          sync.Mutex
	status      Status
	attended    bool
	serviceType string
	failReason  string
	operations  []Operation
	maxOps      int
	startedAt   *time.Time
	finishedAt  *time.Time
}

// NewTurn builds a pending turn. maxOps <= 0 means unlimited.
func NewTurn(id string, priority Priority, customerID, cardRef string, createdAt time.Time, maxOps int) *Turn {
	return &Turn{
		ID:         id,
		Priority:   priority,
		CustomerID: customerID,
		CardRef:    cardRef,
		CreatedAt:  createdAt,
		status:     StatusPending,
		maxOps:     maxOps,
	}
}

// Less orders turns by priority, then arrival.
func Less(a, b *Turn) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (t *Turn) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Turn) Attended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attended
}

func (t *Turn) ServiceType() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.serviceType
}

func (t *Turn) FailReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failReason
}

func (t *Turn) Operations() []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Operation, len(t.operations))
	copy(out, t.operations)
	return out
}

// OperationAt returns the i-th operation, or false once i runs past the end.
// Workers use it so operations appended during service are still picked up.
func (t *Turn) OperationAt(i int) (Operation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.operations) {
		return Operation{}, false
	}
	return t.operations[i], true
}

func (t *Turn) AddOperation(op Operation) error {
	return t.AddOperationIf(op, nil)
}

// AddOperationIf appends op only if check accepts the turn's current status
// and service type. The check runs under the turn lock, so it cannot race
// with StartService.
func (t *Turn) AddOperationIf(op Operation, check func(status Status, serviceType string) error) error {
	if err := op.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if check != nil {
		if err := check(t.status, t.serviceType); err != nil {
			return err
		}
	}
	if t.status.Terminal() {
		return fmt.Errorf("%w: turn %s is %s", ErrInvalidTransition, t.ID, t.status)
	}
	if t.maxOps > 0 && len(t.operations) >= t.maxOps {
		return fmt.Errorf("%w: limit %d", ErrTooManyOperations, t.maxOps)
	}
	t.operations = append(t.operations, op)
	return nil
}

func (t *Turn) MarkInProgress() error {
	return t.transition(StatusInProgress, "")
}

// StartService moves a pending turn to in_progress and records who serves it.
// When accept rejects the operations the turn stays pending and untouched.
func (t *Turn) StartService(serviceType string, accept func([]Operation) bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !CanTransition(t.status, StatusInProgress) {
		return fmt.Errorf("%w: %s -> %s for turn %s", ErrInvalidTransition, t.status, StatusInProgress, t.ID)
	}
	if t.serviceType != "" {
		return fmt.Errorf("%w: %s", ErrServiceTypeAssigned, t.serviceType)
	}
	if accept != nil && !accept(t.operations) {
		return fmt.Errorf("%w: %s for turn %s", ErrServiceRejected, serviceType, t.ID)
	}
	now := time.Now().UTC()
	t.status = StatusInProgress
	t.startedAt = &now
	t.serviceType = serviceType
	return nil
}

func (t *Turn) MarkAttended() error {
	return t.transition(StatusCompleted, "")
}

// CompleteAfter marks the turn completed only if exactly executed operations
// exist. It returns false without changing anything when more operations were
// appended in the meantime, so the caller keeps working.
func (t *Turn) CompleteAfter(executed int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusInProgress && len(t.operations) > executed {
		return false, nil
	}
	if !CanTransition(t.status, StatusCompleted) {
		return false, fmt.Errorf("%w: %s -> %s for turn %s", ErrInvalidTransition, t.status, StatusCompleted, t.ID)
	}
	t.finishLocked(StatusCompleted, "")
	return true, nil
}

func (t *Turn) MarkFailed(reason string) error {
	return t.transition(StatusFailed, reason)
}

func (t *Turn) AssignServiceType(kind string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.serviceType != "" {
		return fmt.Errorf("%w: %s", ErrServiceTypeAssigned, t.serviceType)
	}
	t.serviceType = kind
	return nil
}

func (t *Turn) transition(to Status, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !CanTransition(t.status, to) {
		return fmt.Errorf("%w: %s -> %s for turn %s", ErrInvalidTransition, t.status, to, t.ID)
	}
	if to == StatusInProgress {
		now := time.Now().UTC()
		t.status = to
		t.startedAt = &now
		return nil
	}
	t.finishLocked(to, reason)
	return nil
}

func (t *Turn) finishLocked(to Status, reason string) {
	now := time.Now().UTC()
	t.status = to
	t.attended = true
	t.failReason = reason
	t.finishedAt = &now
}

func (t *Turn) StartedAt() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startedAt == nil {
		return time.Time{}, false
	}
	return *t.startedAt, true
}

func (t *Turn) Snapshot() TurnView {
	t.mu.Lock()
	defer t.mu.Unlock()
	ops := make([]Operation, len(t.operations))
	copy(ops, t.operations)
	return TurnView{
		ID:          t.ID,
		Prefix:      IDPrefix(t.ID),
		Priority:    t.Priority,
		CustomerID:  t.CustomerID,
		CardRef:     t.CardRef,
		Status:      t.status,
		Attended:    t.attended,
		ServiceType: t.serviceType,
		FailReason:  t.failReason,
		Operations:  ops,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.startedAt,
		FinishedAt:  t.finishedAt,
	}
}

func (t *Turn) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	customer := t.CustomerID
	if customer == "" {
		customer = "GUEST"
	}
	return fmt.Sprintf("Turn %s - Customer: %s - Priority: %s - Status: %s - Operations: %d",
		t.ID, customer, t.Priority.Label(), t.status, len(t.operations))
}

// IDPrefix returns the leading non-digit part of a ticket ID.
func IDPrefix(id string) string {
	i := strings.IndexAny(id, "0123456789")
	if i < 0 {
		return id
	}
	return id[:i]
}
