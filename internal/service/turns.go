package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bank_turns/backend/internal/events"
	"github.com/bank_turns/backend/internal/models"
)

var (
	ErrTurnNotFound    = errors.New("turn not found")
	ErrAdvisorRequired = errors.New("operation requires an advisor")
)

const recentLimit = 200

// Archiver stores turns that left active tracking.
type Archiver interface {
	ArchiveTurn(ctx context.Context, v models.TurnView) error
	SavePending(ctx context.Context, views []models.TurnView) error
}

type CreateTurnInput struct {
	ID         string
	CustomerID string
	CardNumber string
	CardTier   string
	Priority   *models.Priority
	CreatedAt  time.Time
	Operations []models.Operation
}

// TurnService creates turns, queues them, and tracks them until they are
// terminal and archived.
type TurnService struct {
	Allocator     *Allocator
	Queue         *TurnQueue
	Publisher     events.Publisher
	Archiver      Archiver
	Logger        zerolog.Logger
	MaxOperations int
	// AdvisorsOnDuty keeps advisor-only operations off turns a teller is
	// already serving.
	AdvisorsOnDuty bool

	mu     sync.RWMutex
	active map[string]*models.Turn
	recent []models.TurnView
}

func NewTurnService(alloc *Allocator, queue *TurnQueue, logger zerolog.Logger) *TurnService {
	return &TurnService{
		Allocator: alloc,
		Queue:     queue,
		Publisher: events.NopPublisher{},
		Logger:    logger,
		active:    map[string]*models.Turn{},
	}
}

// Create builds a turn and enqueues it. Operations are validated before an ID
// is claimed. An explicit ID must carry the prefix of the turn's priority and
// a sequence the allocator has not handed out yet.
func (s *TurnService) Create(ctx context.Context, in CreateTurnInput) (*models.Turn, error) {
	return s.create(ctx, in, false)
}

func (s *TurnService) create(ctx context.Context, in CreateTurnInput, replay bool) (*models.Turn, error) {
	priority, err := resolvePriority(in)
	if err != nil {
		return nil, err
	}
	for i, op := range in.Operations {
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("operation %d: %w", i+1, err)
		}
	}
	if s.MaxOperations > 0 && len(in.Operations) > s.MaxOperations {
		return nil, fmt.Errorf("%w: limit %d", models.ErrTooManyOperations, s.MaxOperations)
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id, err = s.Allocator.Allocate(priority)
		if err != nil {
			return nil, err
		}
	} else if err := s.claimID(id, priority, replay); err != nil {
		return nil, err
	}

	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	turn := models.NewTurn(id, priority, in.CustomerID, in.CardNumber, createdAt, s.MaxOperations)
	for _, op := range in.Operations {
		if err := turn.AddOperation(op); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	if s.active == nil {
		s.active = map[string]*models.Turn{}
	}
	if _, exists := s.active[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTurn, id)
	}
	s.active[id] = turn
	s.mu.Unlock()

	if err := s.Queue.Enqueue(turn); err != nil {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
		return nil, err
	}

	s.publish(ctx, events.EventTurnCreated, turn, "", "")
	s.Logger.Info().
		Str("turn_id", id).
		Int("priority", int(priority)).
		Str("customer_id", in.CustomerID).
		Int("operations", len(in.Operations)).
		Msg("turn queued")
	return turn, nil
}

// claimID checks an explicit ID against the priority and records its
// sequence. Replayed IDs were issued before, so they only move the counter
// forward.
func (s *TurnService) claimID(id string, priority models.Priority, replay bool) error {
	want, _ := PrefixFor(priority)
	prefix, n, ok := ParseSequence(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidTurnID, id)
	}
	if prefix != want {
		return fmt.Errorf("%w: %s does not match priority %s prefix %s", ErrInvalidTurnID, id, priority.Label(), want)
	}
	if replay {
		s.Allocator.Observe(prefix, n)
		return nil
	}
	return s.Allocator.Reserve(prefix, n)
}

func resolvePriority(in CreateTurnInput) (models.Priority, error) {
	if in.Priority != nil {
		if !in.Priority.Valid() {
			return 0, fmt.Errorf("%w: %d", ErrInvalidPriority, *in.Priority)
		}
		return *in.Priority, nil
	}
	var customer *models.CustomerRef
	if in.CustomerID != "" {
		customer = &models.CustomerRef{ID: in.CustomerID}
	}
	var card *models.CardRef
	if in.CardTier != "" || in.CardNumber != "" {
		card = &models.CardRef{Number: in.CardNumber, Tier: models.ParseCardTier(in.CardTier)}
	}
	return DerivePriority(customer, card), nil
}

func (s *TurnService) Get(id string) (*models.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.active[id]
	return t, ok
}

// Lookup returns an active turn or a recently retired one.
func (s *TurnService) Lookup(id string) (models.TurnView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.active[id]; ok {
		return t.Snapshot(), true
	}
	for i := len(s.recent) - 1; i >= 0; i-- {
		if s.recent[i].ID == id {
			return s.recent[i], true
		}
	}
	return models.TurnView{}, false
}

func (s *TurnService) DequeueNext() (*models.Turn, bool) {
	return s.Queue.DequeueNext()
}

// AddOperation appends op to an active turn. Advisor-only operations are
// refused once a teller is serving the turn, unless no advisor is on duty.
func (s *TurnService) AddOperation(id string, op models.Operation) error {
	t, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTurnNotFound, id)
	}
	if !s.AdvisorsOnDuty || !op.AdvisorOnly() {
		return t.AddOperation(op)
	}
	return t.AddOperationIf(op, func(status models.Status, serviceType string) error {
		if status == models.StatusInProgress && serviceType == string(models.WorkerTeller) {
			return fmt.Errorf("%w: %s on turn %s served by a teller", ErrAdvisorRequired, op.Type, id)
		}
		return nil
	})
}

// Pending lists queued turns in dispatch order.
func (s *TurnService) Pending() []models.TurnView {
	turns := s.Queue.Snapshot()
	out := make([]models.TurnView, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Snapshot())
	}
	return out
}

// Retire drops a terminal turn from active tracking and archives it.
func (s *TurnService) Retire(ctx context.Context, t *models.Turn) {
	v := t.Snapshot()
	if !v.Status.Terminal() {
		return
	}
	s.mu.Lock()
	delete(s.active, t.ID)
	s.recent = append(s.recent, v)
	if len(s.recent) > recentLimit {
		s.recent = s.recent[len(s.recent)-recentLimit:]
	}
	s.mu.Unlock()

	if s.Archiver == nil {
		return
	}
	if err := s.Archiver.ArchiveTurn(ctx, v); err != nil {
		s.Logger.Error().Err(err).Str("turn_id", t.ID).Msg("failed to archive turn")
	}
}

// Abandon drains every pending turn from the queue and hands them to the
// archiver as pending so they can be replayed later.
func (s *TurnService) Abandon(ctx context.Context) []models.TurnView {
	drained := s.Queue.Drain()
	views := make([]models.TurnView, 0, len(drained))
	s.mu.Lock()
	for _, t := range drained {
		delete(s.active, t.ID)
		views = append(views, t.Snapshot())
	}
	s.mu.Unlock()

	for _, t := range drained {
		s.publish(ctx, events.EventTurnAbandoned, t, models.StatusPending, "")
	}
	if s.Archiver != nil && len(views) > 0 {
		if err := s.Archiver.SavePending(ctx, views); err != nil {
			s.Logger.Error().Err(err).Int("count", len(views)).Msg("failed to save pending turns")
		}
	}
	return views
}

// Replay re-enqueues previously saved pending turns under their original IDs.
// A turn that cannot be restored is logged and skipped, and the skipped ones
// are saved back as pending so nothing is lost.
func (s *TurnService) Replay(ctx context.Context, views []models.TurnView) (int, error) {
	restored := 0
	var failed []models.TurnView
	var errs []error
	for _, v := range views {
		p := v.Priority
		_, err := s.create(ctx, CreateTurnInput{
			ID:         v.ID,
			CustomerID: v.CustomerID,
			CardNumber: v.CardRef,
			Priority:   &p,
			CreatedAt:  v.CreatedAt,
			Operations: v.Operations,
		}, true)
		if err != nil {
			s.Logger.Error().Err(err).Str("turn_id", v.ID).Msg("failed to replay pending turn")
			failed = append(failed, v)
			errs = append(errs, fmt.Errorf("replay %s: %w", v.ID, err))
			continue
		}
		restored++
	}
	if len(failed) > 0 && s.Archiver != nil {
		if err := s.Archiver.SavePending(ctx, failed); err != nil {
			errs = append(errs, fmt.Errorf("save unreplayed turns: %w", err))
		}
	}
	return restored, errors.Join(errs...)
}

func (s *TurnService) publish(ctx context.Context, eventType string, t *models.Turn, previous models.Status, workerID string) {
	if s.Publisher == nil {
		return
	}
	evt := events.NewTurnEvent(eventType, t.Snapshot(), previous)
	evt.WorkerID = workerID
	if err := s.Publisher.Publish(ctx, evt); err != nil {
		s.Logger.Warn().Err(err).Str("turn_id", t.ID).Str("event", eventType).Msg("failed to publish turn event")
	}
}
