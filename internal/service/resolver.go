package service

import (
	"context"
	"strings"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/repository"
)

// GroupRef names who a scheduling run is for: a campaign audience, a
// segment, or an explicit list of customers for an ad-hoc send.
type GroupRef struct {
	CampaignID  string   `json:"campaign_id,omitempty"`
	SegmentID   string   `json:"segment_id,omitempty"`
	CustomerIDs []string `json:"customer_ids,omitempty"`
}

func (g GroupRef) Grouped() bool { return g.CampaignID != "" || g.SegmentID != "" }

func (g GroupRef) Validate() error {
	switch {
	case g.CampaignID != "" && g.SegmentID != "":
		return appErrors.NewInvalidRequest("group", "campaign_id and segment_id are mutually exclusive")
	case g.Grouped() && len(g.CustomerIDs) > 0:
		return appErrors.NewInvalidRequest("customer_ids", "only allowed without campaign_id or segment_id")
	case !g.Grouped() && len(g.CustomerIDs) == 0:
		return appErrors.NewInvalidRequest("group", "campaign_id, segment_id or customer_ids is required")
	}
	return nil
}

// Resolution is the ordered recipient list of one run plus the number of
// customers dropped for lacking a contact field.
type Resolution struct {
	Recipients []model.Recipient
	Invalid    int
}

type RecipientResolver struct {
	Directory repository.DirectoryRepositoryInterface
}

// Resolve keeps directory order and the first occurrence of each customer.
func (r *RecipientResolver) Resolve(ctx context.Context, ref GroupRef, ch model.Channel) (*Resolution, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	var (
		customers []model.Customer
		err       error
	)
	switch {
	case ref.CampaignID != "":
		customers, err = r.Directory.Audience(ctx, ref.CampaignID)
	case ref.SegmentID != "":
		customers, err = r.Directory.Membership(ctx, ref.SegmentID)
	default:
		customers, err = r.Directory.Customers(ctx, dedupe(ref.CustomerIDs))
	}
	if err != nil {
		return nil, err
	}

	res := &Resolution{Recipients: make([]model.Recipient, 0, len(customers))}
	seen := make(map[string]bool, len(customers))
	for _, c := range customers {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true

		addr, ok := c.ContactFor(ch)
		if !ok {
			res.Invalid++
			continue
		}
		res.Recipients = append(res.Recipients, model.Recipient{
			ID:         c.ID + ":" + string(ch),
			CustomerID: c.ID,
			Channel:    ch,
			Address:    addr,
		})
	}
	return res, nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
