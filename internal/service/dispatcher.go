package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bank_turns/backend/internal/events"
	"github.com/bank_turns/backend/internal/models"
)

type DispatcherConfig struct {
	Tellers          int
	Advisors         int
	PollInterval     time.Duration
	MaxServiceTime   time.Duration
	WatchdogInterval time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Tellers+c.Advisors <= 0 {
		c.Tellers = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = time.Second
	}
	return c
}

type workerSlot struct {
	info      models.Worker
	accept    func(*models.Turn) bool
	acceptOps func([]models.Operation) bool
}

type inflight struct {
	turn   *models.Turn
	worker string
	cancel context.CancelFunc
}

// Dispatcher runs a pool of tellers and advisors. Each worker pulls the next
// eligible turn from the shared queue; the queue lock is never held while a
// turn is being served.
type Dispatcher struct {
	Turns    *TurnService
	Guard    *Guard
	Executor Executor
	Logger   zerolog.Logger

	cfg DispatcherConfig

	mu       sync.Mutex
	slots    []*workerSlot
	inflight map[string]*inflight
	running  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(turns *TurnService, guard *Guard, exec Executor, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		Turns:    turns,
		Guard:    guard,
		Executor: exec,
		Logger:   logger,
		cfg:      cfg,
		inflight: map[string]*inflight{},
	}
	advisorsOnDuty := cfg.Advisors > 0
	turns.AdvisorsOnDuty = advisorsOnDuty
	now := time.Now().UTC()
	for i := 0; i < cfg.Tellers; i++ {
		d.slots = append(d.slots, &workerSlot{
			info:      models.Worker{ID: fmt.Sprintf("T%d", i+1), Kind: models.WorkerTeller, State: models.WorkerIdle, UpdatedAt: now},
			accept:    Accepts(models.WorkerTeller, advisorsOnDuty),
			acceptOps: AcceptsOperations(models.WorkerTeller, advisorsOnDuty),
		})
	}
	for i := 0; i < cfg.Advisors; i++ {
		d.slots = append(d.slots, &workerSlot{
			info:      models.Worker{ID: fmt.Sprintf("S%d", i+1), Kind: models.WorkerAdvisor, State: models.WorkerIdle, UpdatedAt: now},
			accept:    Accepts(models.WorkerAdvisor, advisorsOnDuty),
			acceptOps: AcceptsOperations(models.WorkerAdvisor, advisorsOnDuty),
		})
	}
	return d
}

// Start launches the workers and the watchdog. It returns immediately.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	for _, slot := range d.slots {
		d.wg.Add(1)
		go d.worker(ctx, slot)
	}
	if d.cfg.MaxServiceTime > 0 {
		d.wg.Add(1)
		go d.watchdog(ctx)
	}
	d.Logger.Info().Int("tellers", d.cfg.Tellers).Int("advisors", d.cfg.Advisors).Msg("dispatcher started")
}

// Stop stops handing out new turns, waits for in-flight turns to finish (or
// ctx to expire), then abandons whatever is still pending.
func (d *Dispatcher) Stop(ctx context.Context) []models.TurnView {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.Logger.Warn().Int("in_flight", d.InFlight()).Msg("dispatcher stop timed out waiting for workers")
	}

	abandoned := d.Turns.Abandon(context.WithoutCancel(ctx))
	d.Logger.Info().Int("abandoned", len(abandoned)).Msg("dispatcher stopped")
	return abandoned
}

func (d *Dispatcher) worker(ctx context.Context, slot *workerSlot) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			d.Logger.Debug().Str("worker", slot.info.ID).Msg("worker exiting")
			return
		}

		turn, ok := d.Turns.Queue.DequeueNextFor(slot.accept)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.Turns.Queue.Notify():
			case <-ticker.C:
			}
			continue
		}

		// more work is waiting; wake another idle worker
		if d.Turns.Queue.Len() > 0 {
			d.Turns.Queue.Signal()
		}

		// in-flight turns finish even when the pool is being stopped
		d.serve(context.WithoutCancel(ctx), slot, turn)
	}
}

func (d *Dispatcher) watchdog(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.expireStuck(ctx, now)
		}
	}
}

// expireStuck fails every in-flight turn older than MaxServiceTime, frees the
// resource locks it holds and retires it. The worker keeps its slot until the
// executor returns.
func (d *Dispatcher) expireStuck(ctx context.Context, now time.Time) int {
	reason := fmt.Sprintf("watchdog: service exceeded %s", d.cfg.MaxServiceTime)

	d.mu.Lock()
	var expired []*inflight
	for id, f := range d.inflight {
		started, ok := f.turn.StartedAt()
		if !ok || now.Sub(started) <= d.cfg.MaxServiceTime {
			continue
		}
		if err := f.turn.MarkFailed(reason); err != nil {
			continue
		}
		delete(d.inflight, id)
		expired = append(expired, f)
	}
	d.mu.Unlock()

	for _, f := range expired {
		f.cancel()
		released := d.Guard.ForceRelease(f.turn.ID)
		d.Logger.Warn().
			Str("turn_id", f.turn.ID).
			Str("worker", f.worker).
			Int("released_locks", released).
			Msg("turn failed by watchdog")
		d.Turns.publish(ctx, events.EventTurnStatusChanged, f.turn, models.StatusInProgress, f.worker)
		d.Turns.Retire(ctx, f.turn)
	}
	return len(expired)
}

func (d *Dispatcher) Workers() []models.Worker {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Worker, 0, len(d.slots))
	for _, slot := range d.slots {
		out = append(out, slot.info)
	}
	return out
}

func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

func (d *Dispatcher) assign(slot *workerSlot, t *models.Turn, cancel context.CancelFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	slot.info.State = models.WorkerAssigned
	slot.info.CurrentTurn = t.ID
	slot.info.UpdatedAt = time.Now().UTC()
	d.inflight[t.ID] = &inflight{turn: t, worker: slot.info.ID, cancel: cancel}
}

// release frees the slot. It returns false when the watchdog already took the
// turn out of flight and retired it.
func (d *Dispatcher) release(slot *workerSlot, t *models.Turn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, tracked := d.inflight[t.ID]
	delete(d.inflight, t.ID)
	slot.info.State = models.WorkerIdle
	slot.info.CurrentTurn = ""
	slot.info.LastTurn = t.ID
	slot.info.UpdatedAt = time.Now().UTC()
	if t.Status() == models.StatusFailed {
		slot.info.Failed++
	} else {
		slot.info.Served++
	}
	return tracked
}
