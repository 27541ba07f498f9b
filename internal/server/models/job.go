// Package models defines server-side data models persisted in the database.
package models

import (
	"time"
)

// JobState is the lifecycle discriminant of a PublishJob.
type JobState string

const (
	StateAwaitingUpload  JobState = "awaiting_upload"
	StateAwaitingPayment JobState = "awaiting_payment"
	StateReserved        JobState = "reserved"
	StateFinalized       JobState = "finalized"
	StateExpired         JobState = "expired"
	StateRefunded        JobState = "refunded"
	StateFailed          JobState = "failed"
)

// IsTerminal reports whether no further client transition is possible.
// Operators may refund an expired job, and a finalize confirmed on chain
// still moves an expired job to finalized.
func (s JobState) IsTerminal() bool {
	switch s {
	case StateFinalized, StateExpired, StateRefunded, StateFailed:
		return true
	}
	return false
}

// UploadStatus tracks the blob-storage multipart session of a job.
type UploadStatus string

const (
	UploadInitiated UploadStatus = "initiated"
	UploadUploading UploadStatus = "uploading"
	UploadUploaded  UploadStatus = "uploaded"
	UploadAborted   UploadStatus = "aborted"
	UploadFailed    UploadStatus = "failed"
)

// ReserveQuote is the signed price proposal bound to a job. Its fields are
// written together or not at all.
type ReserveQuote struct {
	Payer      string
	PriceCents uint32
	// ExpiresAt is Unix seconds and must fit in 40 bits.
	ExpiresAt uint64
	// Nonce is 0x-prefixed hex of 32 random bytes.
	Nonce           string
	IntentCreatedAt time.Time
}

// Expired reports whether the quote can no longer be re-issued at now.
func (q *ReserveQuote) Expired(now time.Time) bool {
	return uint64(now.Unix()) > q.ExpiresAt
}

// PublishJob is one wallet's attempt to upload and publish a single file.
type PublishJob struct {
	ID          string
	Wallet      string
	SHA256      string
	SizeBytes   uint64
	ContentType string
	Title       string

	ObjectKey    string
	UploadID     string
	UploadStatus UploadStatus
	State        JobState

	Quote *ReserveQuote
	// ReservationID is 0x-prefixed keccak256 hex; immutable once set.
	ReservationID string

	ArweaveTxID    string
	FinalizeTxHash string

	LastError string
	Attempts  int

	// Version is bumped by every successful store update.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so callers never share a Quote with the store.
func (j *PublishJob) Clone() *PublishJob {
	c := *j
	if j.Quote != nil {
		q := *j.Quote
		c.Quote = &q
	}
	return &c
}
