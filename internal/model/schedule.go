// internal/model/schedule.go
package model

import "time"

type ScheduleStatus string

const (
	StatusPending ScheduleStatus = "pending"
	StatusSent    ScheduleStatus = "sent"
	StatusFailed  ScheduleStatus = "failed"
)

func (s ScheduleStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// Schedule is one delivery job for one recipient. Only Status, the approval
// fields, the attempt bookkeeping and the claim lease change after creation.
type Schedule struct {
	ID           string         `db:"id" json:"id"`
	Channel      Channel        `db:"channel" json:"channel"`
	CampaignID   string         `db:"campaign_id" json:"campaign_id,omitempty"`
	SegmentID    string         `db:"segment_id" json:"segment_id,omitempty"`
	TemplateID   string         `db:"template_id" json:"template_id"`
	CustomerID   string         `db:"customer_id" json:"customer_id"`
	Address      string         `db:"address" json:"address"`
	ResourceID   string         `db:"resource_id" json:"resource_id"`
	Description  string         `db:"description" json:"description,omitempty"`
	ScheduledFor time.Time      `db:"scheduled_for" json:"scheduled_for"`
	ScheduledDay string         `db:"scheduled_day" json:"scheduled_day"`
	Status       ScheduleStatus `db:"status" json:"status"`
	Approved     bool           `db:"approved" json:"approved"`
	ApprovedAt   *time.Time     `db:"approved_at" json:"approved_at,omitempty"`
	Attempts     int            `db:"attempts" json:"attempts"`
	LastError    string         `db:"last_error" json:"last_error,omitempty"`
	SentAt       *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	ClaimedBy    string         `db:"claimed_by" json:"-"`
	ClaimExpires *time.Time     `db:"claim_expires_at" json:"-"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// GroupKey is the campaign or segment the job was scheduled for, or
// "individual" for ad-hoc sends.
func (s *Schedule) GroupKey() string {
	if s.CampaignID != "" {
		return s.CampaignID
	}
	if s.SegmentID != "" {
		return s.SegmentID
	}
	return "individual"
}

// QueuedBy holds the lease of a row that was published to the dispatch
// queue but not yet picked up by a worker.
const QueuedBy = "~queued"

// Claimed reports whether a live lease is held at now, queued or in dispatch.
func (s *Schedule) Claimed(now time.Time) bool {
	return s.ClaimedBy != "" && s.ClaimExpires != nil && s.ClaimExpires.After(now)
}

// InDispatch reports whether a worker holds a live dispatch lease at now.
func (s *Schedule) InDispatch(now time.Time) bool {
	return s.Claimed(now) && s.ClaimedBy != QueuedBy
}

// Outcome records the result of one delivery attempt.
type Outcome struct {
	Status ScheduleStatus
	Error  string
	At     time.Time
}

type ScheduleFilter struct {
	Channel    Channel
	Status     ScheduleStatus
	CampaignID string
	SegmentID  string
	ResourceID string
	FromDay    string
	ToDay      string
}

func (f ScheduleFilter) Match(s *Schedule) bool {
	if f.Channel != "" && s.Channel != f.Channel {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.CampaignID != "" && s.CampaignID != f.CampaignID {
		return false
	}
	if f.SegmentID != "" && s.SegmentID != f.SegmentID {
		return false
	}
	if f.ResourceID != "" && s.ResourceID != f.ResourceID {
		return false
	}
	if f.FromDay != "" && s.ScheduledDay < f.FromDay {
		return false
	}
	if f.ToDay != "" && s.ScheduledDay > f.ToDay {
		return false
	}
	return true
}

type ScheduleStats struct {
	Total   int            `json:"total"`
	Pending int            `json:"pending"`
	Sent    int            `json:"sent"`
	Failed  int            `json:"failed"`
	ByDate  map[string]int `json:"by_date"`
}
