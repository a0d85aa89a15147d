// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrNotFound reports an unknown campaign, segment, template, resource,
// customer or schedule.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Kind, e.ID)
}

func NewNotFound(kind, id string) error {
	return &ErrNotFound{Kind: kind, ID: id}
}

func NewCampaignNotFound(id string) error { return NewNotFound("campaign", id) }
func NewSegmentNotFound(id string) error  { return NewNotFound("segment", id) }
func NewTemplateNotFound(id string) error { return NewNotFound("template", id) }
func NewResourceNotFound(id string) error { return NewNotFound("resource", id) }
func NewScheduleNotFound(id string) error { return NewNotFound("schedule", id) }

// IsNotFound reports whether err is an ErrNotFound of any kind.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

type ErrInvalidTemplate struct {
	TemplateID string
	Reason     string
	Err        error
}

func (e *ErrInvalidTemplate) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid template %s: %s", e.TemplateID, e.Reason)
	}
	return fmt.Sprintf("invalid template %s", e.TemplateID)
}

func (e *ErrInvalidTemplate) Unwrap() error { return e.Err }

func NewInvalidTemplate(id, reason string, err error) error {
	return &ErrInvalidTemplate{TemplateID: id, Reason: reason, Err: err}
}

// ErrCapacityExhausted is returned when the look-ahead horizon runs out
// before every recipient has a day.
type ErrCapacityExhausted struct {
	ResourceID  string
	Placed      int
	Remaining   int
	HorizonDays int
}

func (e *ErrCapacityExhausted) Error() string {
	return fmt.Sprintf("resource %s has no capacity for %d recipients within %d days (%d placed)",
		e.ResourceID, e.Remaining, e.HorizonDays, e.Placed)
}

func NewCapacityExhausted(resourceID string, placed, remaining, horizon int) error {
	return &ErrCapacityExhausted{ResourceID: resourceID, Placed: placed, Remaining: remaining, HorizonDays: horizon}
}

type ErrNotRetriable struct {
	ID     string
	Status string
}

func (e *ErrNotRetriable) Error() string {
	return fmt.Sprintf("schedule %s cannot be retried in status %s", e.ID, e.Status)
}

func NewNotRetriable(id, status string) error {
	return &ErrNotRetriable{ID: id, Status: status}
}

// ErrDuplicateSchedule is a schedule id that is already stored.
type ErrDuplicateSchedule struct {
	ID  string
	Err error
}

func (e *ErrDuplicateSchedule) Error() string {
	return fmt.Sprintf("schedule %s already exists", e.ID)
}

func (e *ErrDuplicateSchedule) Unwrap() error { return e.Err }

func NewDuplicateSchedule(id string, err error) error {
	return &ErrDuplicateSchedule{ID: id, Err: err}
}

type ErrInvalidRequest struct {
	Field  string
	Reason string
}

func (e *ErrInvalidRequest) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewInvalidRequest(field, reason string) error {
	return &ErrInvalidRequest{Field: field, Reason: reason}
}

var (
	// ErrEmptyRecipientSet is reported when no recipient has the contact
	// field the channel needs. Callers decide whether zero jobs is fine.
	ErrEmptyRecipientSet = errors.New("no recipients with a usable address")

	// ErrClaimConflict means another worker holds the dispatch lease.
	ErrClaimConflict = errors.New("schedule already claimed")

	// ErrClaimLost means the lease expired and the row moved on before the
	// attempt was recorded.
	ErrClaimLost = errors.New("dispatch claim lost")
)
