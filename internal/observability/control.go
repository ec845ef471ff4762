package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// OperationalControls is the write side of the engine's pause/mute flags.
// Backed by the state store so the flags survive restarts.
type OperationalControls interface {
	SetPaused(ctx context.Context, paused bool) error
	SetMuteUntil(ctx context.Context, until int64) error
}

// ControlHandler exposes pause/resume/mute over the ops port. The scan
// engine picks the flags up at the start of its next cycle.
type ControlHandler struct {
	controls OperationalControls
}

func NewControlHandler(controls OperationalControls) *ControlHandler {
	return &ControlHandler{controls: controls}
}

// Register mounts the control endpoints on a mux.
func (h *ControlHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/control/pause", h.pause(true))
	mux.HandleFunc("/control/resume", h.pause(false))
	mux.HandleFunc("/control/mute", h.mute)
}

func (h *ControlHandler) pause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := h.controls.SetPaused(r.Context(), paused); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		log.Info().Bool("paused", paused).Msg("ops: pause flag updated")
		writeJSON(w, map[string]any{"paused": paused})
	}
}

// mute silences alerts for ?minutes= (default 60). minutes=0 unmutes.
func (h *ControlHandler) mute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	minutes := 60
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			http.Error(w, "minutes must be a non-negative integer", http.StatusBadRequest)
			return
		}
		minutes = v
	}

	var until int64
	if minutes > 0 {
		until = time.Now().Add(time.Duration(minutes) * time.Minute).Unix()
	}
	if err := h.controls.SetMuteUntil(r.Context(), until); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Info().Int("minutes", minutes).Int64("until", until).Msg("ops: mute updated")
	writeJSON(w, map[string]any{"mute_until": until})
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
