package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/aggregate"
	"github.com/JakeFAU/specialdays/internal/calendarfeed"
	"github.com/JakeFAU/specialdays/internal/hash/sha256"
	"github.com/JakeFAU/specialdays/internal/observance"
)

const (
	maxLookAhead        = 366
	defaultCalendarDays = 30
)

type observancesResponse struct {
	Date        string                  `json:"date"`
	Observances []observance.Observance `json:"observances"`
}

func (s *Server) getObservances(w http.ResponseWriter, r *http.Request) {
	if s.deps.Observances == nil {
		writeError(w, http.StatusServiceUnavailable, "observances unavailable")
		return
	}
	date := s.now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := resolveDate(raw, date)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		date = parsed
	}
	list := s.deps.Observances.GetForDate(r.Context(), date)
	writeJSON(w, http.StatusOK, observancesResponse{Date: observance.DateKey(date), Observances: list})
}

// resolveDate accepts YYYY-MM-DD or DD/MM. A DD/MM date resolves to its
// next occurrence on or after today's year, so 29/02 lands on a leap year.
func resolveDate(raw string, now time.Time) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, raw, now.Location()); err == nil {
		return t, nil
	}
	dm, err := observance.ParseDayMonth(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be DD/MM or YYYY-MM-DD: %w", err)
	}
	for year := now.Year(); year < now.Year()+8; year++ {
		t := dm.In(year, now.Location())
		if observance.FromTime(t) == dm {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s never occurs", observance.ErrInvalidDate, dm)
}

func parseDays(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxLookAhead {
		return 0, fmt.Errorf("days must be between 1 and %d", maxLookAhead)
	}
	return n, nil
}

func parseBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

type upcomingResponse struct {
	Start       string                             `json:"start"`
	Days        int                                `json:"days"`
	Observances map[string][]observance.Observance `json:"observances"`
}

func (s *Server) getUpcoming(w http.ResponseWriter, r *http.Request) {
	if s.deps.Observances == nil {
		writeError(w, http.StatusServiceUnavailable, "observances unavailable")
		return
	}
	days, err := parseDays(r, aggregate.DefaultUpcomingDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start := s.now()
	writeJSON(w, http.StatusOK, upcomingResponse{
		Start:       observance.DateKey(start),
		Days:        days,
		Observances: s.deps.Observances.GetUpcoming(r.Context(), start, days),
	})
}

func (s *Server) getStatistics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Observances == nil {
		writeError(w, http.StatusServiceUnavailable, "observances unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Observances.GetStatistics(r.Context()))
}

type verifyResponse struct {
	OK bool `json:"ok"`
	aggregate.VerifyReport
}

func (s *Server) getVerify(w http.ResponseWriter, r *http.Request) {
	if s.deps.Observances == nil {
		writeError(w, http.StatusServiceUnavailable, "observances unavailable")
		return
	}
	report := s.deps.Observances.Verify(r.Context())
	writeJSON(w, http.StatusOK, verifyResponse{OK: report.OK(), VerifyReport: report})
}

func (s *Server) getCalendar(w http.ResponseWriter, r *http.Request) {
	if s.deps.Observances == nil {
		writeError(w, http.StatusServiceUnavailable, "observances unavailable")
		return
	}
	days, err := parseDays(r, defaultCalendarDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := s.now()
	window := s.deps.Observances.GetDays(r.Context(), now, days)
	// Stamping at midnight keeps the body, and so the ETag, stable all day.
	stamp := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var buf bytes.Buffer
	if err := calendarfeed.Write(&buf, window, calendarfeed.Options{Now: stamp}); err != nil {
		s.logger.Error("build calendar", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build calendar")
		return
	}
	etag := sha256.ETag(buf.Bytes())
	w.Header().Set("ETag", etag)
	if sha256.Matches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="specialdays.ics"`)
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warn("write calendar", zap.Error(err))
	}
}
