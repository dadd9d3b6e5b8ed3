package entity

import (
	"context"
	"time"

	"facturo/internal/core/apperror"
	"facturo/internal/core/id"
)

// DocumentStatus is the lifecycle state of a business document.
// Allowed transitions: Draft -> Posted, Draft -> Cancelled, Posted -> Cancelled.
type DocumentStatus string

const (
	StatusDraft     DocumentStatus = "draft"
	StatusPosted    DocumentStatus = "posted"
	StatusCancelled DocumentStatus = "cancelled"
)

// IsValid reports whether the status is one of the known states.
func (s DocumentStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusPosted, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving to target.
func (s DocumentStatus) CanTransitionTo(target DocumentStatus) bool {
	switch s {
	case StatusDraft:
		return target == StatusPosted || target == StatusCancelled
	case StatusPosted:
		return target == StatusCancelled
	}
	return false
}

// Document is the base type for business transactions.
// Examples: Invoice, future GoodsReceipt, Adjustment.
type Document struct {
	BaseDocument

	// Number is the document number (auto-generated, unique within type+period)
	Number string `db:"number" json:"number"`

	// Date is the business date of the document
	Date time.Time `db:"date" json:"date"`

	// Status is the lifecycle state (draft, posted, cancelled)
	Status DocumentStatus `db:"status" json:"status"`

	// PostedAt is set once, when the document transitions to Posted
	PostedAt *time.Time `db:"posted_at" json:"postedAt,omitempty"`

	// CancelledAt is set once, when the document transitions to Cancelled
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelledAt,omitempty"`

	// Comment is an optional user comment
	Comment string `db:"comment" json:"comment,omitempty"`
}

// NewDocument creates a new Document in Draft status.
func NewDocument() Document {
	return Document{
		BaseDocument: NewBaseDocument(),
		Date:         time.Now().UTC(),
		Status:       StatusDraft,
	}
}

// Validate implements Validatable interface.
func (d *Document) Validate(ctx context.Context) error {
	if d.Date.IsZero() {
		return apperror.NewValidation("date is required").
			WithDetail("field", "date")
	}

	if !d.Status.IsValid() {
		return apperror.NewValidation("unknown document status").
			WithDetail("field", "status").
			WithDetail("value", string(d.Status))
	}

	return nil
}

// CanModify checks if document content can be modified.
// Only Draft documents are mutable.
func (d *Document) CanModify() error {
	if d.Status != StatusDraft {
		return apperror.NewBusinessRule(
			apperror.CodeDocumentPosted,
			"Only draft documents can be modified.",
		).WithDetail("document_id", d.ID.String()).
			WithDetail("status", string(d.Status))
	}
	return nil
}

// MarkPosted transitions the document to Posted.
// The caller is responsible for checking the transition beforehand.
func (d *Document) MarkPosted(at time.Time) {
	d.Status = StatusPosted
	d.PostedAt = &at
	d.Touch()
}

// MarkCancelled transitions the document to Cancelled.
func (d *Document) MarkCancelled(at time.Time) {
	d.Status = StatusCancelled
	d.CancelledAt = &at
	d.Touch()
}

// IsPosted returns true if document movements are recorded in registers.
func (d *Document) IsPosted() bool {
	return d.Status == StatusPosted
}

// GetID returns the document ID.
func (d *Document) GetID() id.ID {
	return d.ID
}

// GetStatus returns the current lifecycle state.
func (d *Document) GetStatus() DocumentStatus {
	return d.Status
}
