package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/unclebandit/outreach-scheduler/internal/db"
	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
)

// CommitCounter counts schedule rows of any status already placed on a
// resource for a calendar day.
type CommitCounter interface {
	Committed(ctx context.Context, resourceID, day string) (int, error)
}

// PlanFunc builds the rows of one scheduling run. It runs while the
// resource's scheduling lock is held, so counts read through counter cannot
// change until the rows are stored.
type PlanFunc func(ctx context.Context, counter CommitCounter) ([]*model.Schedule, error)

type ScheduleRepositoryInterface interface {
	CommitCounter

	// Commit persists every row plan returns, or none of them.
	Commit(ctx context.Context, resourceID string, plan PlanFunc) ([]*model.Schedule, error)
	GetByID(ctx context.Context, id string) (*model.Schedule, error)
	List(ctx context.Context, f model.ScheduleFilter) ([]*model.Schedule, error)
	// ListDue returns pending rows whose time has come and whose claim is
	// free or expired. Rows on gated channels are returned only once
	// approved.
	ListDue(ctx context.Context, now time.Time, limit int, gated []model.Channel) ([]*model.Schedule, error)
	Approve(ctx context.Context, ids []string, at time.Time) (int, error)
	// Claim takes the dispatch lease on a row in status from. It returns
	// ErrClaimConflict when the row is leased or has moved on.
	Claim(ctx context.Context, id string, from model.ScheduleStatus, worker string, now, until time.Time) (*model.Schedule, error)
	// MarkQueued takes a queued lease until until on the pending, unleased
	// rows among ids and returns the ids it marked. A worker may claim a
	// queued row; ListDue skips it while the lease lives.
	MarkQueued(ctx context.Context, ids []string, now, until time.Time) ([]string, error)
	Release(ctx context.Context, id, worker string) error
	// Complete records an attempt and drops the lease. It returns
	// ErrClaimLost when worker no longer holds it.
	Complete(ctx context.Context, id, worker string, out model.Outcome) (*model.Schedule, error)
	// DeletePending removes the pending rows among ids that no worker is
	// dispatching and returns the ids it removed.
	DeletePending(ctx context.Context, ids []string, now time.Time) ([]string, error)
}

const scheduleColumns = `id, channel, campaign_id, segment_id, template_id, customer_id, address, resource_id,
	description, scheduled_for, scheduled_day, status, approved, approved_at, attempts, last_error, sent_at,
	claimed_by, claim_expires_at, created_at, updated_at`

const claimFree = `(claimed_by = '' OR claim_expires_at IS NULL OR claim_expires_at <= ?)`

// claimable also admits rows that only hold a queued lease.
const claimable = `(claimed_by IN ('', '` + model.QueuedBy + `') OR claim_expires_at IS NULL OR claim_expires_at <= ?)`

type ScheduleRepository struct {
	DB      *sql.DB
	Dialect db.Dialect
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlCounter struct {
	q       queryer
	dialect db.Dialect
}

func (c sqlCounter) Committed(ctx context.Context, resourceID, day string) (int, error) {
	var n int
	err := c.q.QueryRowContext(ctx,
		c.dialect.Rebind(`SELECT COUNT(*) FROM schedules WHERE resource_id = ? AND scheduled_day = ?`),
		resourceID, day,
	).Scan(&n)
	return n, err
}

func (r *ScheduleRepository) Committed(ctx context.Context, resourceID, day string) (int, error) {
	return sqlCounter{q: r.DB, dialect: r.Dialect}.Committed(ctx, resourceID, day)
}

func (r *ScheduleRepository) Commit(ctx context.Context, resourceID string, plan PlanFunc) ([]*model.Schedule, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := r.Dialect.LockResource(ctx, tx, resourceID); err != nil {
		return nil, fmt.Errorf("lock resource %s: %w", resourceID, err)
	}

	rows, err := plan(ctx, sqlCounter{q: tx, dialect: r.Dialect})
	if err != nil {
		return nil, err
	}

	stmt, err := tx.PrepareContext(ctx, r.Dialect.Rebind(`
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, s := range rows {
		_, err := stmt.ExecContext(ctx,
			s.ID, string(s.Channel), nullStr(s.CampaignID), nullStr(s.SegmentID), s.TemplateID, s.CustomerID,
			s.Address, s.ResourceID, s.Description, toMillis(s.ScheduledFor), s.ScheduledDay, string(s.Status),
			s.Approved, nullMillis(s.ApprovedAt), s.Attempts, s.LastError, nullMillis(s.SentAt),
			s.ClaimedBy, nullMillis(s.ClaimExpires), toMillis(s.CreatedAt), toMillis(s.UpdatedAt),
		)
		if db.IsUniqueViolation(err) {
			return nil, appErrors.NewDuplicateSchedule(s.ID, err)
		}
		if err != nil {
			return nil, fmt.Errorf("insert schedule %s: %w", s.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*model.Schedule, error) {
	row := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`), id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewScheduleNotFound(id)
	}
	return s, err
}

func (r *ScheduleRepository) List(ctx context.Context, f model.ScheduleFilter) ([]*model.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE 1=1`
	args := []any{}

	add := func(cond string, v any) {
		query += " AND " + cond
		args = append(args, v)
	}
	if f.Channel != "" {
		add("channel = ?", string(f.Channel))
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.CampaignID != "" {
		add("campaign_id = ?", f.CampaignID)
	}
	if f.SegmentID != "" {
		add("segment_id = ?", f.SegmentID)
	}
	if f.ResourceID != "" {
		add("resource_id = ?", f.ResourceID)
	}
	if f.FromDay != "" {
		add("scheduled_day >= ?", f.FromDay)
	}
	if f.ToDay != "" {
		add("scheduled_day <= ?", f.ToDay)
	}
	query += " ORDER BY scheduled_for, created_at, id"

	return r.queryList(ctx, query, args...)
}

func (r *ScheduleRepository) ListDue(ctx context.Context, now time.Time, limit int, gated []model.Channel) ([]*model.Schedule, error) {
	ms := toMillis(now)
	query := `SELECT ` + scheduleColumns + ` FROM schedules
		WHERE status = 'pending' AND scheduled_for <= ? AND ` + claimFree
	args := []any{ms, ms}
	if len(gated) > 0 {
		names := make([]string, len(gated))
		for i, ch := range gated {
			names[i] = string(ch)
		}
		in, inArgs := r.Dialect.In("channel", names)
		query += ` AND (approved = TRUE OR NOT ` + in + `)`
		args = append(args, inArgs...)
	}
	query += ` ORDER BY scheduled_for, created_at, id LIMIT ?`
	return r.queryList(ctx, query, append(args, limit)...)
}

func (r *ScheduleRepository) queryList(ctx context.Context, query string, args ...any) ([]*model.Schedule, error) {
	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*model.Schedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *ScheduleRepository) Approve(ctx context.Context, ids []string, at time.Time) (int, error) {
	in, inArgs := r.Dialect.In("id", ids)
	ms := toMillis(at)
	args := append([]any{ms, ms}, inArgs...)
	res, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(`
		UPDATE schedules SET approved = TRUE, approved_at = ?, updated_at = ?
		WHERE `+in+` AND status = 'pending' AND approved = FALSE`), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *ScheduleRepository) Claim(ctx context.Context, id string, from model.ScheduleStatus, worker string, now, until time.Time) (*model.Schedule, error) {
	nowMS := toMillis(now)
	res, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(`
		UPDATE schedules SET claimed_by = ?, claim_expires_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND `+claimable),
		worker, toMillis(until), nowMS, id, string(from), nowMS,
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, appErrors.ErrClaimConflict
	}
	return r.GetByID(ctx, id)
}

func (r *ScheduleRepository) MarkQueued(ctx context.Context, ids []string, now, until time.Time) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}
	in, inArgs := r.Dialect.In("id", ids)
	nowMS := toMillis(now)
	args := append([]any{model.QueuedBy, toMillis(until), nowMS}, inArgs...)
	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(`
		UPDATE schedules SET claimed_by = ?, claim_expires_at = ?, updated_at = ?
		WHERE `+in+` AND status = 'pending' AND `+claimFree+`
		RETURNING id`), append(args, nowMS)...)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func (r *ScheduleRepository) Release(ctx context.Context, id, worker string) error {
	_, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(`
		UPDATE schedules SET claimed_by = '', claim_expires_at = NULL WHERE id = ? AND claimed_by = ?`),
		id, worker,
	)
	return err
}

func (r *ScheduleRepository) Complete(ctx context.Context, id, worker string, out model.Outcome) (*model.Schedule, error) {
	if out.Status != model.StatusSent && out.Status != model.StatusFailed {
		return nil, fmt.Errorf("invalid outcome status %q", out.Status)
	}
	var sentAt any
	if out.Status == model.StatusSent {
		sentAt = toMillis(out.At)
	}
	res, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(`
		UPDATE schedules
		SET status = ?, last_error = ?, attempts = attempts + 1, sent_at = ?,
		    claimed_by = '', claim_expires_at = NULL, updated_at = ?
		WHERE id = ? AND claimed_by = ? AND status IN ('pending', 'failed')`),
		string(out.Status), out.Error, sentAt, toMillis(out.At), id, worker,
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, appErrors.ErrClaimLost
	}
	return r.GetByID(ctx, id)
}

func (r *ScheduleRepository) DeletePending(ctx context.Context, ids []string, now time.Time) ([]string, error) {
	in, inArgs := r.Dialect.In("id", ids)
	args := append(inArgs, toMillis(now))
	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(`
		DELETE FROM schedules WHERE `+in+` AND status = 'pending' AND `+claimable+`
		RETURNING id`), args...)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*model.Schedule, error) {
	var (
		s                            model.Schedule
		channel, status              string
		campaignID, segmentID        sql.NullString
		scheduledFor, created, upd   int64
		approvedAt, sentAt, claimExp sql.NullInt64
	)
	err := row.Scan(
		&s.ID, &channel, &campaignID, &segmentID, &s.TemplateID, &s.CustomerID, &s.Address, &s.ResourceID,
		&s.Description, &scheduledFor, &s.ScheduledDay, &status, &s.Approved, &approvedAt, &s.Attempts,
		&s.LastError, &sentAt, &s.ClaimedBy, &claimExp, &created, &upd,
	)
	if err != nil {
		return nil, err
	}
	s.Channel = model.Channel(channel)
	s.Status = model.ScheduleStatus(status)
	s.CampaignID = campaignID.String
	s.SegmentID = segmentID.String
	s.ScheduledFor = fromMillis(scheduledFor)
	s.CreatedAt = fromMillis(created)
	s.UpdatedAt = fromMillis(upd)
	s.ApprovedAt = fromNullMillis(approvedAt)
	s.SentAt = fromNullMillis(sentAt)
	s.ClaimExpires = fromNullMillis(claimExp)
	return &s, nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

var _ ScheduleRepositoryInterface = (*ScheduleRepository)(nil)
