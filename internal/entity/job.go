package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusProcessing  JobStatus = "processing"
	StatusNeedsReview JobStatus = "needs_review"
	StatusApproved    JobStatus = "approved"
)

// Terminal reports whether no pipeline step may move the job further.
func (s JobStatus) Terminal() bool {
	return s == StatusNeedsReview || s == StatusApproved
}

func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusNeedsReview, StatusApproved:
		return true
	}
	return false
}

// CanTransition enforces queued -> processing -> (needs_review | approved).
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing
	case StatusProcessing:
		// processing -> processing is a redelivered run starting over
		return to == StatusProcessing || to.Terminal()
	default:
		return false
	}
}

// Images holds storage references, not image bytes.
type Images struct {
	Front  string `json:"id_front"`
	Back   string `json:"id_back"`
	Selfie string `json:"selfie"`
}

type Job struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	Status          JobStatus `json:"status"`
	Images          Images    `json:"images"`
	OCRConfidence   *float64  `json:"ocr_confidence,omitempty"`
	MatchScore      *float64  `json:"match_score,omitempty"`
	CredentialID    *string   `json:"credential_id,omitempty"`
	TransactionHash *string   `json:"transaction_hash,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// UserKYC is the slice of the user record the pipeline mirrors into.
type UserKYC struct {
	UserID    uuid.UUID  `json:"user_id"`
	KYCStatus string     `json:"kyc_status"`
	KYCJobID  *uuid.UUID `json:"kyc_job_id,omitempty"`
}
