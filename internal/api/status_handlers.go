package api

import (
	"cmp"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
	"github.com/JakeFAU/campus-crawler/internal/logging"
)

const (
	defaultDomainLimit = 20
	maxDomainLimit     = 500
)

// StatusHandler exposes read-only crawl progress endpoints.
type StatusHandler struct {
	progress ProgressProvider
	logger   *zap.Logger
}

// NewStatusHandler wires the provider and logger.
func NewStatusHandler(progress ProgressProvider, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{progress: progress, logger: logging.OrNop(logger)}
}

type summaryDTO struct {
	SessionID     string    `json:"session_id"`
	Phase         string    `json:"phase"`
	Processed     int       `json:"processed"`
	Saved         int       `json:"saved"`
	Failed        int       `json:"failed"`
	Visited       int       `json:"visited"`
	Known         int       `json:"known"`
	PriorityQueue int       `json:"priority_queue"`
	NormalQueue   int       `json:"normal_queue"`
	Deferred      int       `json:"deferred"`
	Dropped       int       `json:"dropped"`
	Domains       int       `json:"domains"`
	SessionStart  time.Time `json:"session_start"`
	ElapsedSecs   float64   `json:"elapsed_seconds"`
}

type domainDTO struct {
	Host  string `json:"host"`
	Saved int    `json:"saved"`
}

// Summary handles GET /v1/status. It returns the session counters, or 503
// when no session is attached.
func (h *StatusHandler) Summary(w http.ResponseWriter, _ *http.Request) {
	if h.progress == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "no crawl session")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, toSummaryDTO(h.progress.Progress()))
}

// Domains handles GET /v1/status/domains?limit=. It lists saved-page counts
// per host, highest first.
func (h *StatusHandler) Domains(w http.ResponseWriter, r *http.Request) {
	if h.progress == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "no crawl session")
		return
	}
	limit, err := parseLimit(r, defaultDomainLimit, maxDomainLimit)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	domains := topDomains(h.progress.Progress().DomainStats, limit)
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"domains": domains})
}

func toSummaryDTO(p crawler.Progress) summaryDTO {
	return summaryDTO{
		SessionID:     p.SessionID,
		Phase:         string(p.Phase),
		Processed:     p.Processed,
		Saved:         p.Saved,
		Failed:        p.Failed,
		Visited:       p.Visited,
		Known:         p.Known,
		PriorityQueue: p.PriorityQueue,
		NormalQueue:   p.NormalQueue,
		Deferred:      p.Deferred,
		Dropped:       p.Dropped,
		Domains:       len(p.DomainStats),
		SessionStart:  p.SessionStart,
		ElapsedSecs:   p.Elapsed.Seconds(),
	}
}

func topDomains(stats map[string]int, limit int) []domainDTO {
	out := make([]domainDTO, 0, len(stats))
	for host, saved := range stats {
		out = append(out, domainDTO{Host: host, Saved: saved})
	}
	slices.SortFunc(out, func(a, b domainDTO) int {
		if c := cmp.Compare(b.Saved, a.Saved); c != 0 {
			return c
		}
		return cmp.Compare(a.Host, b.Host)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}
