package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
	"github.com/unclebandit/outreach-scheduler/internal/model"
	"github.com/unclebandit/outreach-scheduler/internal/service"
)

// ScheduleCommands are the operations that change schedules.
type ScheduleCommands interface {
	CreateSchedules(ctx context.Context, req service.CreateRequest) (*service.CreateResult, error)
	PreviewSchedules(ctx context.Context, req service.CreateRequest) (*service.PreviewResult, error)
	Approve(ctx context.Context, ids []string) (int, error)
	Retry(ctx context.Context, id string) (*model.Schedule, error)
	DeleteSchedules(ctx context.Context, ids []string) (*service.DeleteResult, error)
}

type ScheduleController struct {
	Service ScheduleCommands
	Log     zerolog.Logger
}

type idsBody struct {
	IDs []string `json:"ids"`
}

func (c *ScheduleController) decodeCreate(r *http.Request) (service.CreateRequest, error) {
	var req service.CreateRequest
	if err := decode(r, &req); err != nil {
		return req, err
	}
	if ch, err := model.ParseChannel(string(req.Channel)); err == nil {
		req.Channel = ch
	}
	return req, nil
}

// CreateSchedules answers 201 with the creation summary. A run that
// resolves to nobody answers 200 with a zero summary and a warning.
func (c *ScheduleController) CreateSchedules(w http.ResponseWriter, r *http.Request) {
	req, err := c.decodeCreate(r)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	res, err := c.Service.CreateSchedules(r.Context(), req)
	if errors.Is(err, appErrors.ErrEmptyRecipientSet) && res != nil {
		WriteJSON(w, http.StatusOK, struct {
			*service.CreateResult
			Warning string `json:"warning"`
		}{res, err.Error()})
		return
	}
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}

func (c *ScheduleController) PreviewSchedules(w http.ResponseWriter, r *http.Request) {
	req, err := c.decodeCreate(r)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	res, err := c.Service.PreviewSchedules(r.Context(), req)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (c *ScheduleController) Approve(w http.ResponseWriter, r *http.Request) {
	var body idsBody
	if err := decode(r, &body); err != nil {
		WriteError(w, c.Log, err)
		return
	}
	n, err := c.Service.Approve(r.Context(), body.IDs)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"approved": n, "requested": len(body.IDs)})
}

func (c *ScheduleController) Retry(w http.ResponseWriter, r *http.Request) {
	s, err := c.Service.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, s)
}

func (c *ScheduleController) DeleteSchedules(w http.ResponseWriter, r *http.Request) {
	var body idsBody
	if err := decode(r, &body); err != nil {
		WriteError(w, c.Log, err)
		return
	}
	res, err := c.Service.DeleteSchedules(r.Context(), body.IDs)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
