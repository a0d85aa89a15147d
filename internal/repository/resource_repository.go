package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/unclebandit/outreach-scheduler/internal/db"
	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
)

type ResourceRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.SendingResource, error)
	Active(ctx context.Context, ch model.Channel) (*model.SendingResource, error)
	SetActive(ctx context.Context, id string) error
}

// ResourceRepository stores email accounts and phone numbers.
type ResourceRepository struct {
	DB      *sql.DB
	Dialect db.Dialect
}

const resourceColumns = `id, channel, address, daily_limit, active`

func (r *ResourceRepository) GetByID(ctx context.Context, id string) (*model.SendingResource, error) {
	row := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(`SELECT `+resourceColumns+` FROM sending_resources WHERE id = ?`), id)
	res, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewResourceNotFound(id)
	}
	return res, err
}

func (r *ResourceRepository) Active(ctx context.Context, ch model.Channel) (*model.SendingResource, error) {
	row := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(`
		SELECT `+resourceColumns+` FROM sending_resources
		WHERE channel = ? AND active = TRUE ORDER BY id LIMIT 1`), string(ch))
	res, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewNotFound("active resource", string(ch))
	}
	return res, err
}

// SetActive makes id the only active resource of its channel.
func (r *ResourceRepository) SetActive(ctx context.Context, id string) error {
	res, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.Dialect.Rebind(`UPDATE sending_resources SET active = FALSE WHERE channel = ?`), string(res.Channel)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, r.Dialect.Rebind(`UPDATE sending_resources SET active = TRUE WHERE id = ?`), id); err != nil {
		return err
	}
	return tx.Commit()
}

func scanResource(row rowScanner) (*model.SendingResource, error) {
	var (
		res     model.SendingResource
		channel string
		limit   sql.NullInt64
	)
	if err := row.Scan(&res.ID, &channel, &res.Address, &limit, &res.Active); err != nil {
		return nil, err
	}
	res.Channel = model.Channel(channel)
	if limit.Valid {
		n := int(limit.Int64)
		res.DailyLimit = &n
	}
	return &res, nil
}

var _ ResourceRepositoryInterface = (*ResourceRepository)(nil)
