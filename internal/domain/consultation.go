package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConsultationStatus is the lifecycle of a consultation request.
type ConsultationStatus string

const (
	ConsultationPending  ConsultationStatus = "pending"
	ConsultationResolved ConsultationStatus = "resolved"
)

// ConsultationRequest is a worker-raised question that requires a human
// choice before the run can proceed. Resolution is never cached on the
// request itself: a request is resolved iff a HumanDecision references it.
type ConsultationRequest struct {
	ID        string             `json:"id"`
	RunID     string             `json:"run_id"`
	Worker    WorkerName         `json:"worker"`
	Question  string             `json:"question"`
	Options   []string           `json:"options,omitempty"`
	Status    ConsultationStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

// NewConsultationRequest creates a pending request raised by a worker.
func NewConsultationRequest(runID string, worker WorkerName, question string, options []string) *ConsultationRequest {
	return &ConsultationRequest{
		ID:        uuid.NewString(),
		RunID:     runID,
		Worker:    worker,
		Question:  question,
		Options:   options,
		Status:    ConsultationPending,
		CreatedAt: time.Now().UTC(),
	}
}

// HumanDecision is the recorded answer to exactly one ConsultationRequest.
type HumanDecision struct {
	ID        string    `json:"id"`
	CRPID     string    `json:"crp_id"`
	Option    string    `json:"option"`
	Rationale string    `json:"rationale,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// NewHumanDecision records an answer for the given consultation request.
func NewHumanDecision(crpID, option, rationale string) *HumanDecision {
	return &HumanDecision{
		ID:        uuid.NewString(),
		CRPID:     crpID,
		Option:    option,
		Rationale: rationale,
		DecidedAt: time.Now().UTC(),
	}
}

// UnresolvedRequests returns the requests with no matching decision,
// computed by set difference over crp ids.
func UnresolvedRequests(requests []*ConsultationRequest, decisions []*HumanDecision) []*ConsultationRequest {
	answered := make(map[string]bool, len(decisions))
	for _, d := range decisions {
		answered[d.CRPID] = true
	}
	var open []*ConsultationRequest
	for _, r := range requests {
		if !answered[r.ID] {
			open = append(open, r)
		}
	}
	return open
}
