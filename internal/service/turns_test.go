package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bank_turns/backend/internal/events"
	"github.com/bank_turns/backend/internal/models"
)

type memArchive struct {
	mu       sync.Mutex
	archived []models.TurnView
	pending  []models.TurnView
}

func (m *memArchive) ArchiveTurn(_ context.Context, v models.TurnView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived = append(m.archived, v)
	return nil
}

func (m *memArchive) SavePending(_ context.Context, views []models.TurnView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, views...)
	return nil
}

func (m *memArchive) archivedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.archived))
	for _, v := range m.archived {
		ids = append(ids, v.ID)
	}
	return ids
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TurnEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.TurnEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

func newTestTurnService() *TurnService {
	s := NewTurnService(NewAllocator(), NewTurnQueue(), zerolog.Nop())
	s.MaxOperations = 3
	return s
}

func TestCreateDerivesPriorityAndID(t *testing.T) {
	s := newTestTurnService()
	pub := &recordingPublisher{}
	s.Publisher = pub
	ctx := context.Background()

	gold, err := s.Create(ctx, CreateTurnInput{CustomerID: "c1", CardTier: "GOLD"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if gold.ID != "A001" || gold.Priority != models.PriorityHigh {
		t.Fatalf("got %s priority %d", gold.ID, gold.Priority)
	}

	registered, _ := s.Create(ctx, CreateTurnInput{CustomerID: "c2"})
	guest, _ := s.Create(ctx, CreateTurnInput{})
	if registered.ID != "B001" || guest.ID != "C001" {
		t.Fatalf("got %s and %s", registered.ID, guest.ID)
	}

	if s.Queue.Len() != 3 {
		t.Fatalf("expected 3 queued, got %d", s.Queue.Len())
	}
	if len(pub.types()) != 3 || pub.types()[0] != events.EventTurnCreated {
		t.Fatalf("unexpected events %v", pub.types())
	}
}

func TestCreateWithExplicitIDReservesSequence(t *testing.T) {
	s := newTestTurnService()
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	p := models.PriorityHigh
	turn, err := s.Create(ctx, CreateTurnInput{ID: "A042", Priority: &p, CreatedAt: at})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if turn.ID != "A042" || !turn.CreatedAt.Equal(at) {
		t.Fatalf("explicit fields ignored: %s %s", turn.ID, turn.CreatedAt)
	}
	if s.Allocator.Current("A") != 42 {
		t.Fatalf("explicit id not reserved, counter at %d", s.Allocator.Current("A"))
	}
	next, _ := s.Create(ctx, CreateTurnInput{CardTier: "GOLD"})
	if next.ID != "A043" {
		t.Fatalf("expected A043 after explicit A042, got %s", next.ID)
	}

	if _, err := s.Create(ctx, CreateTurnInput{ID: "A042", Priority: &p}); !errors.Is(err, ErrDuplicateTurn) {
		t.Fatalf("expected ErrDuplicateTurn, got %v", err)
	}
}

func TestCreateExplicitIDNeverDuplicatesAllocatedID(t *testing.T) {
	s := newTestTurnService()
	ctx := context.Background()
	high := models.PriorityHigh

	explicit, err := s.Create(ctx, CreateTurnInput{ID: "A002", Priority: &high})
	if err != nil {
		t.Fatalf("create A002: %v", err)
	}
	seen := map[string]bool{explicit.ID: true}
	for i := 0; i < 3; i++ {
		turn, err := s.Create(ctx, CreateTurnInput{Priority: &high})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if seen[turn.ID] {
			t.Fatalf("id %s handed out twice", turn.ID)
		}
		seen[turn.ID] = true
	}

	allocated, _ := s.Create(ctx, CreateTurnInput{})
	if allocated.ID != "C001" {
		t.Fatalf("expected C001, got %s", allocated.ID)
	}
	// C001 was issued and is still queued; once it is served the ID must stay taken
	got, _ := s.Queue.DequeueNextFor(func(turn *models.Turn) bool { return turn.ID == "C001" })
	_ = got.MarkInProgress()
	_ = got.MarkAttended()
	s.Retire(ctx, got)
	if _, err := s.Create(ctx, CreateTurnInput{ID: "C001"}); !errors.Is(err, ErrDuplicateTurn) {
		t.Fatalf("expected ErrDuplicateTurn for a served id, got %v", err)
	}
}

func TestCreateRejectsExplicitIDWithWrongPrefix(t *testing.T) {
	s := newTestTurnService()
	ctx := context.Background()
	high := models.PriorityHigh

	tests := []struct {
		name string
		in   CreateTurnInput
	}{
		{"walk-in with high prefix", CreateTurnInput{ID: "A002"}},
		{"high with low prefix", CreateTurnInput{ID: "C010", Priority: &high}},
		{"customer with high prefix", CreateTurnInput{ID: "A005", CustomerID: "c1"}},
		{"no sequence", CreateTurnInput{ID: "VIP", Priority: &high}},
		{"no prefix", CreateTurnInput{ID: "042", Priority: &high}},
		{"trailing text", CreateTurnInput{ID: "A01x", Priority: &high}},
	}
	for _, tc := range tests {
		if _, err := s.Create(ctx, tc.in); !errors.Is(err, ErrInvalidTurnID) {
			t.Fatalf("%s: expected ErrInvalidTurnID, got %v", tc.name, err)
		}
	}

	if s.Queue.Len() != 0 {
		t.Fatalf("rejected turns were queued")
	}
	for _, prefix := range []string{"A", "B", "C"} {
		if s.Allocator.Current(prefix) != 0 {
			t.Fatalf("rejected id moved counter %s to %d", prefix, s.Allocator.Current(prefix))
		}
	}
}

func TestCreateRejectsBadInputWithoutSideEffects(t *testing.T) {
	s := newTestTurnService()
	ctx := context.Background()

	bad := models.Priority(7)
	if _, err := s.Create(ctx, CreateTurnInput{Priority: &bad}); !errors.Is(err, ErrInvalidPriority) {
		t.Fatalf("expected ErrInvalidPriority, got %v", err)
	}
	ops := []models.Operation{{Type: "loan"}}
	if _, err := s.Create(ctx, CreateTurnInput{Operations: ops}); !errors.Is(err, models.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
	tooMany := []models.Operation{
		models.BalanceInquiry("1"), models.BalanceInquiry("1"),
		models.BalanceInquiry("1"), models.BalanceInquiry("1"),
	}
	if _, err := s.Create(ctx, CreateTurnInput{Operations: tooMany}); !errors.Is(err, models.ErrTooManyOperations) {
		t.Fatalf("expected ErrTooManyOperations, got %v", err)
	}

	if s.Queue.Len() != 0 {
		t.Fatalf("rejected turns were queued")
	}
	turn, _ := s.Create(ctx, CreateTurnInput{})
	if turn.ID != "C001" {
		t.Fatalf("rejected requests consumed sequence numbers, got %s", turn.ID)
	}
}

func TestAddOperationUnknownTurn(t *testing.T) {
	s := newTestTurnService()
	if err := s.AddOperation("Z999", models.Deposit("1", 1)); !errors.Is(err, ErrTurnNotFound) {
		t.Fatalf("expected ErrTurnNotFound, got %v", err)
	}
}

func TestRetireArchivesTerminalTurns(t *testing.T) {
	s := newTestTurnService()
	archive := &memArchive{}
	s.Archiver = archive
	ctx := context.Background()

	turn, _ := s.Create(ctx, CreateTurnInput{})
	s.Retire(ctx, turn)
	if len(archive.archivedIDs()) != 0 {
		t.Fatalf("pending turn was archived")
	}

	got, _ := s.DequeueNext()
	_ = got.MarkInProgress()
	_ = got.MarkAttended()
	s.Retire(ctx, got)

	if ids := archive.archivedIDs(); len(ids) != 1 || ids[0] != turn.ID {
		t.Fatalf("unexpected archive %v", ids)
	}
	if _, ok := s.Get(turn.ID); ok {
		t.Fatalf("retired turn still active")
	}
	v, ok := s.Lookup(turn.ID)
	if !ok || v.Status != models.StatusCompleted {
		t.Fatalf("retired turn not in recent history: %+v", v)
	}
}

func TestAbandonAndReplay(t *testing.T) {
	s := newTestTurnService()
	archive := &memArchive{}
	pub := &recordingPublisher{}
	s.Archiver = archive
	s.Publisher = pub
	ctx := context.Background()

	_, _ = s.Create(ctx, CreateTurnInput{})
	_, _ = s.Create(ctx, CreateTurnInput{CardTier: "PLATINUM", Operations: []models.Operation{models.Deposit("1", 2)}})

	abandoned := s.Abandon(ctx)
	if len(abandoned) != 2 || abandoned[0].ID != "A001" || abandoned[1].ID != "C001" {
		t.Fatalf("unexpected abandoned %+v", abandoned)
	}
	if s.Queue.Len() != 0 || len(archive.pending) != 2 {
		t.Fatalf("queue not drained or pending not saved")
	}
	if _, ok := s.Get("A001"); ok {
		t.Fatalf("abandoned turn still active")
	}

	fresh := NewTurnService(NewAllocatorFrom(map[string]int{"A": 1, "C": 1}), NewTurnQueue(), zerolog.Nop())
	restored, err := fresh.Replay(ctx, archive.pending)
	if err != nil || restored != 2 {
		t.Fatalf("replay: %d %v", restored, err)
	}
	first, _ := fresh.DequeueNext()
	if first.ID != "A001" || len(first.Operations()) != 1 {
		t.Fatalf("replayed turn lost data: %s %+v", first.ID, first.Operations())
	}
	next, _ := fresh.Create(ctx, CreateTurnInput{})
	if next.ID != "C002" {
		t.Fatalf("allocator reused a replayed sequence: %s", next.ID)
	}

	abandonedEvents := 0
	for _, typ := range pub.types() {
		if typ == events.EventTurnAbandoned {
			abandonedEvents++
		}
	}
	if abandonedEvents != 2 {
		t.Fatalf("expected 2 abandoned events, got %d", abandonedEvents)
	}
}

func TestReplaySkipsBadTurnsAndSavesThemBack(t *testing.T) {
	archive := &memArchive{}
	s := NewTurnService(NewAllocator(), NewTurnQueue(), zerolog.Nop())
	s.MaxOperations = 1
	s.Archiver = archive
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	views := []models.TurnView{
		{ID: "A001", Priority: models.PriorityHigh, CreatedAt: at,
			Operations: []models.Operation{models.Deposit("1", 1), models.Deposit("1", 2)}},
		{ID: "B007", Priority: models.PriorityMedium, CustomerID: "c1", CreatedAt: at},
		{ID: "C003", Priority: models.PriorityLow, CreatedAt: at.Add(time.Minute)},
	}
	restored, err := s.Replay(ctx, views)
	if restored != 2 {
		t.Fatalf("expected 2 restored, got %d", restored)
	}
	if !errors.Is(err, models.ErrTooManyOperations) {
		t.Fatalf("expected joined ErrTooManyOperations, got %v", err)
	}
	if s.Queue.Len() != 2 {
		t.Fatalf("expected later turns queued, got %d", s.Queue.Len())
	}
	if len(archive.pending) != 1 || archive.pending[0].ID != "A001" {
		t.Fatalf("failed turn not saved back: %+v", archive.pending)
	}

	next, _ := s.Create(ctx, CreateTurnInput{CustomerID: "c2"})
	if next.ID != "B008" {
		t.Fatalf("replayed sequence not observed, got %s", next.ID)
	}
}

func TestAddOperationKeepsAdvisorWorkOffTellers(t *testing.T) {
	s := newTestTurnService()
	s.AdvisorsOnDuty = true
	ctx := context.Background()

	served, _ := s.Create(ctx, CreateTurnInput{})
	got, _ := s.DequeueNext()
	if err := got.StartService(string(models.WorkerTeller), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.AddOperation(served.ID, models.CloseAccount("1")); !errors.Is(err, ErrAdvisorRequired) {
		t.Fatalf("expected ErrAdvisorRequired, got %v", err)
	}
	if err := s.AddOperation(served.ID, models.Deposit("1", 5)); err != nil {
		t.Fatalf("cash operation on teller turn: %v", err)
	}
	if ops := got.Operations(); len(ops) != 1 || ops[0].Type != models.OpDeposit {
		t.Fatalf("unexpected operations %+v", ops)
	}

	queued, _ := s.Create(ctx, CreateTurnInput{})
	if err := s.AddOperation(queued.ID, models.CloseAccount("1")); err != nil {
		t.Fatalf("pending turn should accept advisor work: %v", err)
	}

	s.AdvisorsOnDuty = false
	if err := s.AddOperation(served.ID, models.CloseAccount("1")); err != nil {
		t.Fatalf("tellers take everything without advisors: %v", err)
	}
}

func TestPendingInDispatchOrder(t *testing.T) {
	s := newTestTurnService()
	ctx := context.Background()
	_, _ = s.Create(ctx, CreateTurnInput{})
	_, _ = s.Create(ctx, CreateTurnInput{CustomerID: "c1"})
	_, _ = s.Create(ctx, CreateTurnInput{CardTier: "GOLD"})

	pending := s.Pending()
	if len(pending) != 3 || pending[0].ID != "A001" || pending[1].ID != "B001" || pending[2].ID != "C001" {
		t.Fatalf("unexpected pending order %+v", pending)
	}
}
