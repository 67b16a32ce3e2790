package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/smartcare-bridge/internal/bridges/smartcare"
)

// refreshTimeout bounds a refresh triggered over HTTP.
const refreshTimeout = 15 * time.Second

// maxChannelNameLen rejects absurd path parameters before any lookup.
const maxChannelNameLen = 64

// handleBridgeStatus returns the poller status and counters.
func (s *Server) handleBridgeStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.GetMetrics())
}

// handleListChannels returns every bound channel resolved against the
// current snapshot.
func (s *Server) handleListChannels(w http.ResponseWriter, _ *http.Request) {
	channels := s.bridge.ChannelStates()
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": channels,
		"count":    len(channels),
	})
}

// handleGetChannel returns one channel's resolved state.
func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	channel, ok := channelParam(w, r)
	if !ok {
		return
	}

	state, err := s.bridge.ChannelState(channel)
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleRefreshChannel fetches immediately and republishes one channel.
func (s *Server) handleRefreshChannel(w http.ResponseWriter, r *http.Request) {
	channel, ok := channelParam(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	if err := s.bridge.Refresh(ctx, channel); err != nil {
		s.writeBridgeError(w, err)
		return
	}

	state, err := s.bridge.ChannelState(channel)
	if err != nil {
		s.writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleRefreshAll fetches immediately and republishes every channel.
func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	if err := s.bridge.Refresh(ctx, ""); err != nil {
		s.writeBridgeError(w, err)
		return
	}

	channels := s.bridge.ChannelStates()
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": channels,
		"count":    len(channels),
	})
}

// writeBridgeError maps bridge errors to HTTP responses.
func (s *Server) writeBridgeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, smartcare.ErrUnknownChannel):
		writeNotFound(w, "channel not found")
	case errors.Is(err, smartcare.ErrNotRunning):
		writeServiceUnavailable(w, "bridge is not running")
	case errors.Is(err, smartcare.ErrNetwork),
		errors.Is(err, smartcare.ErrHTTPStatus),
		errors.Is(err, smartcare.ErrDecode):
		writeBadGateway(w, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, ErrCodeUpstream, "refresh timed out")
	default:
		s.logger.Error("bridge request failed", "error", err)
		writeInternalError(w, "bridge request failed")
	}
}

// channelParam extracts and sanity-checks the {channel} path parameter.
func channelParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	channel := chi.URLParam(r, "channel")
	if channel == "" || len(channel) > maxChannelNameLen {
		writeBadRequest(w, "invalid channel")
		return "", false
	}
	return channel, true
}
