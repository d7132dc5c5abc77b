package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/bank_turns/backend/internal/bank"
	"github.com/bank_turns/backend/internal/db"
	"github.com/bank_turns/backend/internal/models"
	"github.com/bank_turns/backend/internal/service"
)

// Archive is the read side of the turn store.
type Archive interface {
	Ping(ctx context.Context) error
	GetTurn(ctx context.Context, id string) (models.TurnView, error)
	ListTurns(ctx context.Context, status string, limit, offset int) ([]models.TurnView, error)
}

type Handler struct {
	Turns      *service.TurnService
	Dispatcher *service.Dispatcher
	Guard      *service.Guard
	Ledger     *bank.Ledger
	Store      Archive
	Validator  *validator.Validate
	Logger     zerolog.Logger
	AdminKey   string
}

func (h *Handler) Healthz(c *gin.Context) {
	if h.Store == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type CreateTurnRequest struct {
	ID         string             `json:"id" validate:"omitempty,alphanum,max=16"`
	CustomerID string             `json:"customer_id" validate:"omitempty,max=64"`
	CardNumber string             `json:"card_number" validate:"omitempty,numeric,max=19"`
	CardTier   string             `json:"card_tier" validate:"omitempty,max=32"`
	Priority   *int               `json:"priority"`
	CreatedAt  *time.Time         `json:"created_at"`
	Operations []models.Operation `json:"operations"`
}

// @Summary Create turn
// @Description Derives the priority from customer and card, allocates a ticket ID and queues the turn
// @Tags turns
// @Accept json
// @Produce json
// @Param body body CreateTurnRequest true "Turn request"
// @Success 201 {object} models.TurnView
// @Failure 400 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/turns [post]
func (h *Handler) CreateTurn(c *gin.Context) {
	var req CreateTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	in := service.CreateTurnInput{
		ID:         req.ID,
		CustomerID: strings.TrimSpace(req.CustomerID),
		CardNumber: req.CardNumber,
		CardTier:   req.CardTier,
		Operations: req.Operations,
	}
	if req.Priority != nil {
		p := models.Priority(*req.Priority)
		in.Priority = &p
	}
	if req.CreatedAt != nil {
		in.CreatedAt = req.CreatedAt.UTC()
	}

	turn, err := h.Turns.Create(c.Request.Context(), in)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, turn.Snapshot())
}

// @Summary Pending turns
// @Description Queued turns in dispatch order
// @Tags turns
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/turns [get]
func (h *Handler) PendingTurns(c *gin.Context) {
	items := h.Turns.Pending()
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (h *Handler) TurnDetails(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if v, ok := h.Turns.Lookup(id); ok {
		c.JSON(http.StatusOK, v)
		return
	}
	if h.Store == nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Turn not found", nil)
		return
	}
	v, err := h.Store.GetTurn(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Turn not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get turn", err.Error())
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) TurnHistory(c *gin.Context) {
	if h.Store == nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Turn archive is not configured", nil)
		return
	}
	status := strings.ToLower(strings.TrimSpace(c.Query("status")))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	items, err := h.Store.ListTurns(c.Request.Context(), status, limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list turns", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

// @Summary Add operation
// @Description Appends an operation to a pending or in-progress turn
// @Tags turns
// @Accept json
// @Produce json
// @Param id path string true "Turn ID"
// @Param body body models.Operation true "Operation"
// @Success 200 {object} models.TurnView
// @Failure 400 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/turns/{id}/operations [post]
func (h *Handler) AddOperation(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	var op models.Operation
	if err := c.ShouldBindJSON(&op); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Turns.AddOperation(id, op); err != nil {
		writeServiceError(c, err)
		return
	}
	v, _ := h.Turns.Lookup(id)
	c.JSON(http.StatusOK, v)
}

// @Summary Workers
// @Tags workers
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/workers [get]
func (h *Handler) WorkersList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"items":     h.Dispatcher.Workers(),
		"in_flight": h.Dispatcher.InFlight(),
		"pending":   h.Turns.Queue.Len(),
	})
}

func (h *Handler) LocksList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.Guard.Held()})
}

// @Summary Drain queue
// @Description Removes every pending turn and saves it for replay
// @Tags admin
// @Produce json
// @Success 200 {object} map[string]any
// @Router /api/dispatcher/drain [post]
func (h *Handler) DrainQueue(c *gin.Context) {
	drained := h.Turns.Abandon(c.Request.Context())
	h.Logger.Warn().Int("count", len(drained)).Msg("queue drained by admin")
	c.JSON(http.StatusOK, gin.H{"drained": drained, "count": len(drained)})
}

// @Summary Debug eligibility
// @Tags debug
// @Produce json
// @Param turn_id query string true "Turn ID"
// @Success 200 {object} map[string]any
// @Router /api/debug/eligibility [get]
func (h *Handler) DebugEligibility(c *gin.Context) {
	turnID := strings.TrimSpace(c.Query("turn_id"))
	if turnID == "" {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "turn_id is required", nil)
		return
	}
	v, ok := h.Turns.Lookup(turnID)
	if !ok {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Turn not found", nil)
		return
	}
	if v.Status != models.StatusPending {
		writeError(c, http.StatusBadRequest, "INVALID_STATE", "Turn is not pending", gin.H{"status": v.Status})
		return
	}

	elig := service.FilterEligibleWorkers(h.Dispatcher.Workers(), v)
	stageIDs := map[string][]string{}
	for _, stage := range elig.Stages {
		ids := []string{}
		for _, w := range stage.Candidates {
			ids = append(ids, w.ID)
		}
		stageIDs[stage.Name] = ids
	}

	final := gin.H{
		"eligible":    stageIDs["idle_rule"],
		"reason_code": elig.ReasonCode,
		"reason_text": elig.ReasonText,
	}
	if len(elig.Eligible) > 0 {
		next, top := service.PickWorker(v.ID, elig.Eligible)
		topIDs := make([]string, 0, len(top))
		for _, w := range top {
			topIDs = append(topIDs, w.ID)
		}
		final["likely_worker"] = next.ID
		final["top"] = topIDs
	}

	c.JSON(http.StatusOK, gin.H{
		"turn_id":       v.ID,
		"needs_advisor": elig.NeedsAdvisor,
		"stages":        stageIDs,
		"final":         final,
	})
}

type CreateCustomerRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

// @Summary Register customer
// @Tags customers
// @Accept json
// @Produce json
// @Param body body CreateCustomerRequest true "Customer"
// @Success 201 {object} bank.Customer
// @Router /api/customers [post]
func (h *Handler) CreateCustomer(c *gin.Context) {
	var req CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	c.JSON(http.StatusCreated, h.Ledger.AddCustomer(req.Name))
}

func (h *Handler) CustomerDetails(c *gin.Context) {
	customer, ok := h.Ledger.Customer(c.Param("id"))
	if !ok {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Customer not found", nil)
		return
	}
	c.JSON(http.StatusOK, customer)
}

func (h *Handler) AccountDetails(c *gin.Context) {
	acc, ok := h.Ledger.Account(c.Param("number"))
	if !ok {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Account not found", nil)
		return
	}
	c.JSON(http.StatusOK, acc)
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidPriority),
		errors.Is(err, service.ErrInvalidTurnID),
		errors.Is(err, models.ErrInvalidOperation),
		errors.Is(err, models.ErrTooManyOperations):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
	case errors.Is(err, service.ErrTurnNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Turn not found", nil)
	case errors.Is(err, service.ErrDuplicateTurn):
		writeError(c, http.StatusConflict, "CONFLICT", "Turn already exists", err.Error())
	case errors.Is(err, models.ErrInvalidTransition):
		writeError(c, http.StatusConflict, "INVALID_STATE", "Turn is already finished", err.Error())
	case errors.Is(err, service.ErrAdvisorRequired):
		writeError(c, http.StatusConflict, "INVALID_STATE", "Turn is being served by a teller", err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected error", err.Error())
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
