package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/qqrelay/internal/delivery"
	"github.com/nextlevelbuilder/qqrelay/internal/host"
	"github.com/nextlevelbuilder/qqrelay/internal/store"
	"github.com/nextlevelbuilder/qqrelay/pkg/protocol"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	var req delivery.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, protocol.ErrInvalidRequest, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "invalid JSON: "+err.Error())
		return
	}

	res, err := s.deps.Delivery.Deliver(r.Context(), req)
	switch {
	case errors.Is(err, delivery.ErrExhausted):
		writeJSON(w, http.StatusBadGateway, res)
	case errors.Is(err, delivery.ErrContentRejected):
		writeJSON(w, http.StatusUnprocessableEntity, res)
	case err != nil:
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, err.Error())
	case res.Status == delivery.StatusPending:
		writeJSON(w, http.StatusAccepted, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	res, ok := s.deps.Delivery.Lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, protocol.ErrNotFound, "unknown delivery")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type statusResponse struct {
	Version  string         `json:"version,omitempty"`
	Uptime   string         `json:"uptime"`
	Gateway  interface{}    `json:"gateway,omitempty"`
	Delivery delivery.Stats `json:"delivery"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Version:  s.deps.Version,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Delivery: s.deps.Delivery.Stats(),
	}
	if s.deps.Gateway != nil {
		resp.Gateway = s.deps.Gateway.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRestart(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrUnavailable, "gateway not running")
		return
	}
	s.deps.Gateway.Restart()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
}

func (s *Server) handleListBindings(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Bindings.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	if list == nil {
		list = []store.ButtonBinding{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bindings": list})
}

// bindingKey reads the canonical conversation key from the path.
func bindingKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, err := host.CanonicalKey(r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, err.Error())
		return "", false
	}
	return key, true
}

func (s *Server) handleGetBinding(w http.ResponseWriter, r *http.Request) {
	key, ok := bindingKey(w, r)
	if !ok {
		return
	}
	b, err := s.deps.Bindings.Get(r.Context(), key)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type bindingBody struct {
	ActionID      string `json:"action_id"`
	ActionPayload string `json:"action_payload"`
	BoundID       string `json:"bound_id,omitempty"`
}

func (s *Server) handlePutBinding(w http.ResponseWriter, r *http.Request) {
	key, ok := bindingKey(w, r)
	if !ok {
		return
	}
	var body bindingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "invalid JSON: "+err.Error())
		return
	}
	b := store.ButtonBinding{
		ConversationKey: key,
		ActionID:        body.ActionID,
		ActionPayload:   body.ActionPayload,
		BoundID:         body.BoundID,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := store.ValidateBinding(b); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, err.Error())
		return
	}
	if err := s.deps.Bindings.Put(r.Context(), b); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBinding(w http.ResponseWriter, r *http.Request) {
	key, ok := bindingKey(w, r)
	if !ok {
		return
	}
	if err := s.deps.Bindings.Delete(r.Context(), key); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrBindingNotFound) {
		writeError(w, http.StatusNotFound, protocol.ErrNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
}
