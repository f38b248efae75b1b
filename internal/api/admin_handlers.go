package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/announce"
	"github.com/JakeFAU/specialdays/internal/holidayapi"
	"github.com/JakeFAU/specialdays/internal/observance"
	"github.com/JakeFAU/specialdays/internal/sourcecache"
)

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sources == nil {
		writeError(w, http.StatusServiceUnavailable, "sources unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.deps.Sources.Statuses(r.Context())})
}

func (s *Server) refreshSource(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sources == nil {
		writeError(w, http.StatusServiceUnavailable, "sources unavailable")
		return
	}
	name := chi.URLParam(r, "name")
	stats, err := s.deps.Sources.Refresh(r.Context(), name, parseBool(r, "force"))
	if err != nil {
		if errors.Is(err, sourcecache.ErrUnknownSource) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if stats.Error != "" {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, stats)
}

func (s *Server) holidayStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Holidays == nil {
		writeError(w, http.StatusServiceUnavailable, "holiday api disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Holidays.Status(r.Context()))
}

func (s *Server) prefetchHolidays(w http.ResponseWriter, r *http.Request) {
	if s.deps.Holidays == nil {
		writeError(w, http.StatusServiceUnavailable, "holiday api disabled")
		return
	}
	days, err := parseDays(r, holidayapi.DefaultPrefetchDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats := s.deps.Holidays.WeeklyPrefetch(r.Context(), days, parseBool(r, "force"))
	status := http.StatusOK
	if stats.QuotaExceeded {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, stats)
}

func (s *Server) listCustom(w http.ResponseWriter, r *http.Request) {
	if s.deps.Custom == nil {
		writeError(w, http.StatusServiceUnavailable, "custom store unavailable")
		return
	}
	list, err := s.deps.Custom.List(r.Context())
	if err != nil {
		s.logger.Error("list custom observances", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list custom observances")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"observances": list})
}

type customRequest struct {
	Date        observance.DayMonth `json:"date"`
	Name        string              `json:"name"`
	Category    string              `json:"category"`
	Description string              `json:"description"`
	Emoji       string              `json:"emoji"`
	Enabled     *bool               `json:"enabled"`
	Source      string              `json:"source"`
	URL         string              `json:"url"`
}

func (req customRequest) toObservance() (observance.Observance, error) {
	category := observance.CategoryCustom
	if req.Category != "" {
		c, err := observance.ParseCategory(req.Category)
		if err != nil {
			return observance.Observance{}, err
		}
		category = c
	}
	o := observance.Observance{
		Date:        req.Date,
		Name:        strings.TrimSpace(req.Name),
		Category:    category,
		Description: req.Description,
		Emoji:       req.Emoji,
		Enabled:     boolOrDefault(req.Enabled, true),
		Source:      req.Source,
		URL:         req.URL,
	}
	if o.Source == "" {
		o.Source = observance.SourceCustom
	}
	return o, o.Validate()
}

func boolOrDefault(ptr *bool, def bool) bool {
	if ptr == nil {
		return def
	}
	return *ptr
}

func (s *Server) upsertCustom(w http.ResponseWriter, r *http.Request) {
	if s.deps.Custom == nil {
		writeError(w, http.StatusServiceUnavailable, "custom store unavailable")
		return
	}
	var req customRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	o, err := req.toObservance()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Custom.Upsert(r.Context(), o); err != nil {
		s.logger.Error("upsert custom observance", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save custom observance")
		return
	}
	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	writeJSON(w, status, o)
}

func (s *Server) removeCustom(w http.ResponseWriter, r *http.Request) {
	if s.deps.Custom == nil {
		writeError(w, http.StatusServiceUnavailable, "custom store unavailable")
		return
	}
	date, err := observance.ParseDayMonth(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	removed, err := s.deps.Custom.Remove(r.Context(), date, r.URL.Query().Get("name"))
	if err != nil {
		if errors.Is(err, observance.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no matching custom observance")
			return
		}
		s.logger.Error("remove custom observance", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to remove custom observance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	if s.deps.Observances == nil {
		writeError(w, http.StatusServiceUnavailable, "observances unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": s.deps.Observances.CategoriesEnabled(r.Context())})
}

type categoryRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) setCategory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Observances == nil {
		writeError(w, http.StatusServiceUnavailable, "observances unavailable")
		return
	}
	category, err := observance.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req categoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"enabled\": bool}")
		return
	}
	if err := s.deps.Observances.SetCategoryEnabled(r.Context(), category, *req.Enabled); err != nil {
		s.logger.Error("set category", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save category setting")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": category, "enabled": *req.Enabled})
}

func (s *Server) getMode(w http.ResponseWriter, r *http.Request) {
	if s.deps.Modes == nil {
		writeError(w, http.StatusServiceUnavailable, "mode unavailable")
		return
	}
	st, err := s.deps.Modes.State(r.Context())
	if err != nil {
		s.writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type modeRequest struct {
	Mode      string `json:"mode"`
	WeeklyDay string `json:"weekly_day"`
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	if s.deps.Modes == nil {
		writeError(w, http.StatusServiceUnavailable, "mode unavailable")
		return
	}
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	mode, err := announce.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var weekday *time.Weekday
	if req.WeeklyDay != "" {
		d, err := announce.ParseWeekday(req.WeeklyDay)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		weekday = &d
	}
	st, err := s.deps.Modes.Set(r.Context(), mode, weekday)
	if err != nil {
		s.writeStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type markRequest struct {
	Key    string `json:"key"`
	Member string `json:"member"`
}

type markResponse struct {
	Kind   announce.Kind `json:"kind"`
	Key    string        `json:"key"`
	Member string        `json:"member,omitempty"`
	Marked bool          `json:"marked"`
}

func (s *Server) markAnnouncement(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	kind, err := announce.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var req markRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.Key == "" {
		req.Key = kind.Key(s.now())
	}
	marked, err := s.deps.Ledger.TryMark(r.Context(), kind, req.Key, req.Member)
	if err != nil {
		if errors.Is(err, announce.ErrInvalidKey) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeStateError(w, err)
		return
	}
	resp := markResponse{Kind: kind, Key: req.Key, Member: req.Member, Marked: marked}
	if !marked {
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// writeStateError maps lock contention to 503 so callers retry.
func (s *Server) writeStateError(w http.ResponseWriter, err error) {
	if errors.Is(err, announce.ErrLockTimeout) {
		writeError(w, http.StatusServiceUnavailable, "state is locked, retry later")
		return
	}
	s.logger.Error("state operation failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
