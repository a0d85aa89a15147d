package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-scheduler/internal/cache"
	"github.com/unclebandit/outreach-scheduler/internal/db"
	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
)

type TemplateRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.Template, error)
}

type TemplateRepository struct {
	DB      *sql.DB
	Dialect db.Dialect
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*model.Template, error) {
	var (
		t       model.Template
		channel string
	)
	err := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(`
		SELECT id, channel, subject, body, audio_url FROM templates WHERE id = ?`), id,
	).Scan(&t.ID, &channel, &t.Subject, &t.Body, &t.AudioReference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewTemplateNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	t.Channel = model.Channel(channel)
	return &t, nil
}

// CachedTemplateRepository reads through a TemplateCache. Cache errors are
// logged and fall back to the store.
type CachedTemplateRepository struct {
	Store TemplateRepositoryInterface
	Cache cache.TemplateCache
	Log   zerolog.Logger
}

func (r *CachedTemplateRepository) GetByID(ctx context.Context, id string) (*model.Template, error) {
	t, err := r.Cache.Get(ctx, id)
	if err != nil {
		r.Log.Warn().Err(err).Str("template_id", id).Msg("template cache read failed")
	}
	if t != nil {
		return t, nil
	}

	t, err = r.Store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.Cache.Set(ctx, t); err != nil {
		r.Log.Warn().Err(err).Str("template_id", id).Msg("template cache write failed")
	}
	return t, nil
}

var (
	_ TemplateRepositoryInterface = (*TemplateRepository)(nil)
	_ TemplateRepositoryInterface = (*CachedTemplateRepository)(nil)
)
