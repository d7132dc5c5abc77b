package models

import (
	"strings"
	"time"
)

type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

func (p Priority) Label() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

type CardTier string

const (
	TierNormal   CardTier = "NORMAL"
	TierGold     CardTier = "GOLD"
	TierPlatinum CardTier = "PLATINUM"
	TierUnknown  CardTier = "UNKNOWN"
)

// ParseCardTier never fails; unrecognized values map to TierUnknown.
func ParseCardTier(value string) CardTier {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "NORMAL", "CLASSIC", "STANDARD":
		return TierNormal
	case "GOLD":
		return TierGold
	case "PLATINUM":
		return TierPlatinum
	default:
		return TierUnknown
	}
}

type CustomerRef struct {
	ID string `json:"id"`
}

type CardRef struct {
	Number string   `json:"number,omitempty"`
	Tier   CardTier `json:"tier"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is a forward lifecycle step.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

type WorkerKind string

const (
	WorkerTeller  WorkerKind = "teller"
	WorkerAdvisor WorkerKind = "advisor"
)

type WorkerState string

const (
	WorkerIdle     WorkerState = "idle"
	WorkerAssigned WorkerState = "assigned"
)

type Worker struct {
	ID          string      `json:"id"`
	Kind        WorkerKind  `json:"kind"`
	State       WorkerState `json:"state"`
	CurrentTurn string      `json:"current_turn,omitempty"`
	LastTurn    string      `json:"last_turn,omitempty"`
	Served      int         `json:"served"`
	Failed      int         `json:"failed"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type TurnView struct {
	ID          string      `json:"id"`
	Prefix      string      `json:"prefix"`
	Priority    Priority    `json:"priority"`
	CustomerID  string      `json:"customer_id,omitempty"`
	CardRef     string      `json:"card_ref,omitempty"`
	Status      Status      `json:"status"`
	Attended    bool        `json:"attended"`
	ServiceType string      `json:"service_type,omitempty"`
	FailReason  string      `json:"fail_reason,omitempty"`
	Operations  []Operation `json:"operations"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
}
