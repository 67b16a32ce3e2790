package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// handleGetChannelHistory returns recorded state changes for a channel,
// newest first.
func (s *Server) handleGetChannelHistory(w http.ResponseWriter, r *http.Request) {
	channel, ok := channelParam(w, r)
	if !ok {
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	since, err := parseSinceParam(r.URL.Query().Get("since"))
	if err != nil {
		writeBadRequest(w, "invalid since timestamp")
		return
	}

	if _, err := s.bridge.ChannelState(channel); err != nil {
		s.writeBridgeError(w, err)
		return
	}

	if s.history == nil {
		writeServiceUnavailable(w, "state history unavailable")
		return
	}

	entries, err := s.history.GetHistory(r.Context(), channel, limit)
	if err != nil {
		s.logger.Error("failed to load channel history", "channel", channel, "error", err)
		writeInternalError(w, "failed to load channel history")
		return
	}

	if !since.IsZero() {
		filtered := entries[:0]
		for _, entry := range entries {
			if entry.CreatedAt.After(since) {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"channel": channel,
		"history": entries,
		"count":   len(entries),
	})
}

// parseHistoryLimit parses the limit query parameter with bounds enforcement.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}

// parseSinceParam parses the since parameter as RFC3339/RFC3339Nano.
func parseSinceParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
