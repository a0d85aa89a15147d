package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/unclebandit/outreach-scheduler/internal/db"
	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
)

// DirectoryRepositoryInterface is the campaign/segment directory the
// recipient resolver reads from. Lists come back in insertion order.
type DirectoryRepositoryInterface interface {
	Audience(ctx context.Context, campaignID string) ([]model.Customer, error)
	Membership(ctx context.Context, segmentID string) ([]model.Customer, error)
	Customers(ctx context.Context, ids []string) ([]model.Customer, error)
	GroupNames(ctx context.Context, ids []string) (map[string]string, error)
}

// CustomerRepository reads customers, campaign audiences and segment
// memberships.
type CustomerRepository struct {
	DB      *sql.DB
	Dialect db.Dialect
}

func (r *CustomerRepository) Audience(ctx context.Context, campaignID string) ([]model.Customer, error) {
	if err := r.exists(ctx, "campaigns", campaignID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(campaignID)
		}
		return nil, err
	}
	return r.listCustomers(ctx, `
		SELECT c.id, c.email, c.phone, c.first_name, c.last_name
		FROM campaign_audiences a JOIN customers c ON c.id = a.customer_id
		WHERE a.campaign_id = ?
		ORDER BY a.position, a.customer_id`, campaignID)
}

func (r *CustomerRepository) Membership(ctx context.Context, segmentID string) ([]model.Customer, error) {
	if err := r.exists(ctx, "segments", segmentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewSegmentNotFound(segmentID)
		}
		return nil, err
	}
	return r.listCustomers(ctx, `
		SELECT c.id, c.email, c.phone, c.first_name, c.last_name
		FROM segment_members m JOIN customers c ON c.id = m.customer_id
		WHERE m.segment_id = ?
		ORDER BY m.position, m.customer_id`, segmentID)
}

// Customers returns the customers in the order of ids.
func (r *CustomerRepository) Customers(ctx context.Context, ids []string) ([]model.Customer, error) {
	in, args := r.Dialect.In("id", ids)
	found, err := r.listCustomers(ctx, `SELECT id, email, phone, first_name, last_name FROM customers WHERE `+in, args...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Customer, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	out := make([]model.Customer, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return nil, appErrors.NewNotFound("customer", id)
		}
		out = append(out, c)
	}
	return out, nil
}

// GroupNames maps campaign and segment ids to their display names.
func (r *CustomerRepository) GroupNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	for _, table := range []string{"campaigns", "segments"} {
		in, args := r.Dialect.In("id", ids)
		rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(`SELECT id, name FROM `+table+` WHERE `+in), args...)
		if err != nil {
			return nil, err
		}
		if err := scanNames(rows, names); err != nil {
			return nil, fmt.Errorf("%s names: %w", table, err)
		}
	}
	return names, nil
}

type nameRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// scanNames adds every (id, name) row to names and closes rows.
func scanNames(rows nameRows, names map[string]string) error {
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return err
		}
		names[id] = name
	}
	return rows.Err()
}

func (r *CustomerRepository) exists(ctx context.Context, table, id string) error {
	var one int
	return r.DB.QueryRowContext(ctx, r.Dialect.Rebind(`SELECT 1 FROM `+table+` WHERE id = ?`), id).Scan(&one)
}

func (r *CustomerRepository) listCustomers(ctx context.Context, query string, args ...any) ([]model.Customer, error) {
	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := []model.Customer{}
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.ID, &c.Email, &c.Phone, &c.FirstName, &c.LastName); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

var _ DirectoryRepositoryInterface = (*CustomerRepository)(nil)
