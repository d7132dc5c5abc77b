package service

import (
	"sort"

	"github.com/bank_turns/backend/internal/models"
	"github.com/bank_turns/backend/internal/utils"
)

type EligibilityResult struct {
	Eligible     []models.Worker
	ReasonCode   string
	ReasonText   string
	Stages       []EligibilityStage
	NeedsAdvisor bool
}

type EligibilityStage struct {
	Name       string
	Candidates []models.Worker
}

func needsAdvisor(ops []models.Operation) bool {
	for _, op := range ops {
		if op.AdvisorOnly() {
			return true
		}
	}
	return false
}

// AcceptsOperations reports which operation lists a worker kind may serve.
// Tellers leave account-management turns to advisors unless the branch has
// none. A nil result accepts everything.
func AcceptsOperations(kind models.WorkerKind, advisorsOnDuty bool) func([]models.Operation) bool {
	if kind == models.WorkerAdvisor || !advisorsOnDuty {
		return nil
	}
	return func(ops []models.Operation) bool {
		return !needsAdvisor(ops)
	}
}

// Accepts returns the dequeue filter for a worker kind.
func Accepts(kind models.WorkerKind, advisorsOnDuty bool) func(*models.Turn) bool {
	accept := AcceptsOperations(kind, advisorsOnDuty)
	if accept == nil {
		return nil
	}
	return func(t *models.Turn) bool {
		return accept(t.Operations())
	}
}

// FilterEligibleWorkers explains which workers could take the turn right now.
func FilterEligibleWorkers(workers []models.Worker, turn models.TurnView) EligibilityResult {
	result := EligibilityResult{NeedsAdvisor: needsAdvisor(turn.Operations)}

	result.Stages = append(result.Stages, EligibilityStage{
		Name:       "on_duty",
		Candidates: workers,
	})
	if len(workers) == 0 {
		result.ReasonCode = "NO_WORKERS"
		result.ReasonText = "No workers on duty"
		return result
	}

	hasAdvisor := false
	for _, w := range workers {
		if w.Kind == models.WorkerAdvisor {
			hasAdvisor = true
			break
		}
	}

	afterKind := workers
	if result.NeedsAdvisor && hasAdvisor {
		afterKind = filterWorkers(workers, func(w models.Worker) bool {
			return w.Kind == models.WorkerAdvisor
		})
	}
	result.Stages = append(result.Stages, EligibilityStage{
		Name:       "kind_rule",
		Candidates: afterKind,
	})

	afterIdle := filterWorkers(afterKind, func(w models.Worker) bool {
		return w.State == models.WorkerIdle
	})
	result.Stages = append(result.Stages, EligibilityStage{
		Name:       "idle_rule",
		Candidates: afterIdle,
	})
	if len(afterIdle) == 0 {
		result.ReasonCode = "ALL_BUSY"
		result.ReasonText = "Every eligible worker is serving a turn"
		return result
	}

	result.Eligible = afterIdle
	return result
}

// PickWorker returns the idle worker most likely to take the turn next: the
// least-served, with a stable hash of the turn ID breaking ties between the
// top two.
func PickWorker(turnID string, eligible []models.Worker) (models.Worker, []models.Worker) {
	if len(eligible) == 0 {
		return models.Worker{}, nil
	}
	sorted := make([]models.Worker, len(eligible))
	copy(sorted, eligible)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Served == sorted[j].Served {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Served < sorted[j].Served
	})

	if len(sorted) <= 2 {
		return sorted[utils.Bucket(turnID, len(sorted))], sorted
	}
	top2 := sorted[:2]
	return top2[utils.Bucket(turnID, 2)], top2
}

func filterWorkers(workers []models.Worker, keep func(models.Worker) bool) []models.Worker {
	out := make([]models.Worker, 0, len(workers))
	for _, w := range workers {
		if keep(w) {
			out = append(out, w)
		}
	}
	return out
}
