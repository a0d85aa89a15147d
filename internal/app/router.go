package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/outreach-scheduler/internal/controller"
	"github.com/unclebandit/outreach-scheduler/internal/handler"
)

// Router mounts the schedule API.
func (a *App) Router() http.Handler {
	scheduleController := &controller.ScheduleController{Service: a.Service, Log: a.log}
	scheduleHandler := &handler.ScheduleHandler{Service: a.Service, Log: a.log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.DB.PingContext(r.Context()); err != nil {
			controller.WriteError(w, a.log, err)
			return
		}
		controller.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Schedule routes
	r.Post("/schedules", scheduleController.CreateSchedules)
	r.Post("/schedules/preview", scheduleController.PreviewSchedules)
	r.Get("/schedules", scheduleHandler.ListSchedules)
	r.Get("/schedules/stats", scheduleHandler.Stats)
	r.Post("/schedules/approve", scheduleController.Approve)
	r.Post("/schedules/{id}/retry", scheduleController.Retry)
	r.Delete("/schedules", scheduleController.DeleteSchedules)

	r.Get("/resources/{id}/remaining", scheduleHandler.Remaining)
	return r
}

func (a *App) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http")
	})
}
