package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-scheduler/internal/controller"
	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/service"
)

// ScheduleQueries are the read-side operations the monitoring screens use.
type ScheduleQueries interface {
	ListSchedules(ctx context.Context, f model.ScheduleFilter) (*service.GroupedView, error)
	Stats(ctx context.Context, f model.ScheduleFilter) (*model.ScheduleStats, error)
	Remaining(ctx context.Context, resourceID, date string) (*service.RemainingQuota, error)
}

type ScheduleHandler struct {
	Service ScheduleQueries
	Log     zerolog.Logger
}

// ListSchedules returns the day / time slot / group tree.
func (h *ScheduleHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	view, err := h.Service.ListSchedules(r.Context(), f)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, view)
}

func (h *ScheduleHandler) Stats(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	st, err := h.Service.Stats(r.Context(), f)
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, st)
}

func (h *ScheduleHandler) Remaining(w http.ResponseWriter, r *http.Request) {
	q, err := h.Service.Remaining(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("date"))
	if err != nil {
		controller.WriteError(w, h.Log, err)
		return
	}
	controller.WriteJSON(w, http.StatusOK, q)
}

func parseFilter(r *http.Request) (model.ScheduleFilter, error) {
	q := r.URL.Query()
	f := model.ScheduleFilter{
		CampaignID: q.Get("campaign_id"),
		SegmentID:  q.Get("segment_id"),
		ResourceID: q.Get("resource_id"),
		FromDay:    q.Get("from"),
		ToDay:      q.Get("to"),
	}
	if v := q.Get("channel"); v != "" {
		ch, err := model.ParseChannel(v)
		if err != nil {
			return f, appErrors.NewInvalidRequest("channel", err.Error())
		}
		f.Channel = ch
	}
	if v := q.Get("status"); v != "" {
		f.Status = model.ScheduleStatus(v)
		if !f.Status.IsValid() {
			return f, appErrors.NewInvalidRequest("status", "expected pending, sent or failed")
		}
	}
	for field, v := range map[string]string{"from": f.FromDay, "to": f.ToDay} {
		if v == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", v); err != nil {
			return f, appErrors.NewInvalidRequest(field, "expected YYYY-MM-DD")
		}
	}
	return f, nil
}
