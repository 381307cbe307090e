package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mailblast/internal/campaign"
	"mailblast/internal/dispatch"
	"mailblast/internal/ratelimit"
	"mailblast/internal/sender"
	logx "mailblast/pkg/logx"
)

func (s *Service) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.clients.middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/campaigns", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleStatus)
			r.Post("/start", s.handleStart)
			r.Post("/relaunch", s.handleStart) // same policy; dispatcher resets completed runs
			r.Post("/stop", s.handleSignal(campaign.SignalStop))
			r.Post("/pause", s.handleSignal(campaign.SignalPause))
			r.Post("/resume", s.handleSignal(campaign.SignalResume))
			r.Get("/outcomes", s.handleOutcomes)
			r.Get("/logs", s.handleLogs)
			r.Get("/events", s.handleEvents)
		})
	})
	return r
}

// startRequest is the launch payload. Recipients arrive as a ready,
// ordered address list; parsing uploads into one is someone else's job.
type startRequest struct {
	UserID     string            `json:"user_id"`
	Subjects   []string          `json:"subjects"`
	Froms      []sender.Identity `json:"froms"`
	Body       string            `json:"body"`
	Recipients []string          `json:"recipients"`

	RateLimit *rateLimitRequest `json:"rate_limit,omitempty"`
}

type rateLimitRequest struct {
	Enabled    bool   `json:"enabled"`
	PerSecond  uint   `json:"per_second,omitempty"`
	PerMinute  uint   `json:"per_minute,omitempty"`
	PerHour    uint   `json:"per_hour,omitempty"`
	PerDay     uint   `json:"per_day,omitempty"`
	MinGap     string `json:"min_gap,omitempty"`
	BurstLimit uint   `json:"burst_limit,omitempty"`
	Cooldown   string `json:"cooldown,omitempty"`
}

func (s *Service) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	spec := dispatch.CampaignSpec{
		CampaignID: id,
		UserID:     req.UserID,
		Subjects:   req.Subjects,
		Froms:      req.Froms,
		Body:       req.Body,
	}
	if req.RateLimit != nil {
		rl, err := req.RateLimit.toConfig()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		spec.RateLimit = &rl
	}

	run, err := s.dispatcher.StartCampaign(r.Context(), spec, dispatch.SliceSource(req.Recipients))
	if err != nil {
		switch {
		case errors.Is(err, campaign.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, dispatch.ErrNoRecipients),
			errors.Is(err, dispatch.ErrNoIdentity),
			errors.Is(err, dispatch.ErrUnknownCampaign):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.log.Error("start campaign", logx.String("campaign_id", id), logx.Err(err))
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Service) handleSignal(sig campaign.Signal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var err error
		switch sig {
		case campaign.SignalStop:
			err = s.dispatcher.StopCampaign(id)
		case campaign.SignalPause:
			err = s.dispatcher.PauseCampaign(id)
		case campaign.SignalResume:
			err = s.dispatcher.ResumeCampaign(id)
		}
		if err != nil {
			switch {
			case errors.Is(err, campaign.ErrNotRunning):
				writeError(w, http.StatusNotFound, err.Error())
			case errors.Is(err, campaign.ErrBadSignal):
				writeError(w, http.StatusConflict, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"signal": sig.String()})
	}
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.dispatcher.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, dispatch.ErrUnknownCampaign) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	runs, err := s.dispatcher.Statuses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Service) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	class := r.URL.Query().Get("class")

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	recs, err := s.store.ListOutcomes(r.Context(), id, class, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Service) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, s.feed.entries(id))
}

func (rl rateLimitRequest) toConfig() (ratelimit.Config, error) {
	minGap, err := parseDuration("rate_limit.min_gap", rl.MinGap)
	if err != nil {
		return ratelimit.Config{}, err
	}
	cooldown, err := parseDuration("rate_limit.cooldown", rl.Cooldown)
	if err != nil {
		return ratelimit.Config{}, err
	}
	return ratelimit.Config{
		Enabled:    rl.Enabled,
		PerSecond:  rl.PerSecond,
		PerMinute:  rl.PerMinute,
		PerHour:    rl.PerHour,
		PerDay:     rl.PerDay,
		MinGap:     minGap,
		BurstLimit: rl.BurstLimit,
		Cooldown:   cooldown,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
