package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/KeeprDigital/stream-keepr/go/internal/overlay/protocol"
	"github.com/KeeprDigital/stream-keepr/go/internal/topics"
)

// maxBodySize bounds POST /api bodies.
const maxBodySize = 1 << 20

// APIHandler serves the HTTP topic API used by stream deck buttons and other automation.
type APIHandler struct {
	connectionManager *ConnectionManager
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(cm *ConnectionManager) *APIHandler {
	return &APIHandler{connectionManager: cm}
}

// RegisterRoutes registers the /api routes
func (h *APIHandler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/matches/{index:[0-9]+}/data", h.HandleGetMatch).Methods(http.MethodGet)
	api.HandleFunc("/{topic}/data", h.HandleGetData).Methods(http.MethodGet)
	api.HandleFunc("/{topic}/{action}", h.HandleAction).Methods(http.MethodPost)
}

// HandleGetData handles GET /api/{topic}/data
func (h *APIHandler) HandleGetData(w http.ResponseWriter, r *http.Request) {
	topic, err := topics.ParseTopic(mux.Vars(r)["topic"])
	if err != nil {
		writeError(w, err)
		return
	}

	var data any
	err = h.run(r.Context(), func(ctx context.Context) error {
		var err error
		data, err = h.connectionManager.registry.Display(ctx, topic)
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("topic", string(topic)).Msg("failed to get topic data")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// HandleGetMatch handles GET /api/matches/{index}/data
func (h *APIHandler) HandleGetMatch(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, protocol.NewError(protocol.CodeInvalidMessage, "invalid match index"))
		return
	}

	var data any
	err = h.run(r.Context(), func(ctx context.Context) error {
		match, err := h.connectionManager.registry.DisplayMatch(ctx, index)
		if match != nil {
			data = match
		}
		return err
	})
	if err != nil {
		log.Error().Err(err).Int("index", index).Msg("failed to get match data")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// HandleAction handles POST /api/{topic}/{action}. The result is broadcast to every subscriber.
func (h *APIHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	topic, err := topics.ParseTopic(vars["topic"])
	if err != nil {
		writeError(w, err)
		return
	}
	action := vars["action"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, protocol.NewError(protocol.CodeInvalidMessage, "failed to read body"))
		return
	}

	var state any
	err = h.run(r.Context(), func(ctx context.Context) error {
		result, err := h.connectionManager.registry.APICall(ctx, topic, action, body)
		if err != nil {
			return err
		}
		state = result.State
		h.connectionManager.publish(topic, result.State, "")
		return nil
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("topic", string(topic)).
			Str("action", action).
			Msg("API call failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": state})
}

// run executes fn on the dispatcher
func (h *APIHandler) run(ctx context.Context, fn func(ctx context.Context) error) error {
	var fnErr error
	if err := h.connectionManager.Do(ctx, func(ctx context.Context) {
		fnErr = fn(ctx)
	}); err != nil {
		if errors.Is(err, ErrStopped) {
			return protocol.NewError(protocol.CodeTransportDisconnected, err.Error())
		}
		return err
	}
	return fnErr
}

type errorResponse struct {
	Success bool               `json:"success"`
	Error   string             `json:"error"`
	Code    protocol.ErrorCode `json:"code"`
	Details string             `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	perr := protocol.AsError(err)
	writeJSON(w, perr.Status, errorResponse{Error: perr.Message, Code: perr.Code, Details: perr.Details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
