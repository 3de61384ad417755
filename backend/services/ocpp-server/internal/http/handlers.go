package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/commands"
	"evcharge/backend/services/ocpp-server/internal/ocpp"
	"evcharge/backend/services/ocpp-server/internal/repository"
)

var validate = validator.New()

type apiHandlers struct {
	queries  Queries
	commands Commands
	logger   *zap.Logger
}

type remoteStartBody struct {
	IdTag       string `json:"idTag" validate:"required,max=20"`
	ConnectorID int    `json:"connectorId" validate:"gte=0"`
}

type remoteStopBody struct {
	TransactionID int64 `json:"transactionId" validate:"required"`
}

type unlockBody struct {
	ConnectorID int `json:"connectorId" validate:"gt=0"`
}

type resetBody struct {
	Type string `json:"type" validate:"required,oneof=Soft Hard"`
}

type triggerBody struct {
	RequestedMessage string `json:"requestedMessage" validate:"required"`
	ConnectorID      *int   `json:"connectorId,omitempty"`
}

type availabilityBody struct {
	ConnectorID int    `json:"connectorId" validate:"gte=0"`
	Type        string `json:"type" validate:"required,oneof=Operative Inoperative"`
}

type commandResponse struct {
	Accepted bool `json:"accepted"`
}

// listConnected handles GET /api/v1/charge-points.
func (h *apiHandlers) listConnected(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queries.ListConnected())
}

// chargePointStatus handles GET /api/v1/charge-points/{id}.
func (h *apiHandlers) chargePointStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view, err := h.queries.ChargePointStatus(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "charge point not found")
		return
	}
	if err != nil {
		h.logger.Error("charge point status failed", zap.String("charge_point_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// activeTransactions handles GET /api/v1/transactions/active.
func (h *apiHandlers) activeTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.queries.ActiveTransactions(r.Context())
	if err != nil {
		h.logger.Error("active transactions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *apiHandlers) remoteStart(w http.ResponseWriter, r *http.Request) {
	var body remoteStartBody
	if !decodeBody(w, r, &body) {
		return
	}
	accepted, err := h.commands.RemoteStart(r.Context(), chi.URLParam(r, "id"), body.IdTag, body.ConnectorID)
	h.commandResult(w, r, accepted, err)
}

func (h *apiHandlers) remoteStop(w http.ResponseWriter, r *http.Request) {
	var body remoteStopBody
	if !decodeBody(w, r, &body) {
		return
	}
	accepted, err := h.commands.RemoteStop(r.Context(), chi.URLParam(r, "id"), body.TransactionID)
	h.commandResult(w, r, accepted, err)
}

func (h *apiHandlers) unlock(w http.ResponseWriter, r *http.Request) {
	var body unlockBody
	if !decodeBody(w, r, &body) {
		return
	}
	accepted, err := h.commands.UnlockConnector(r.Context(), chi.URLParam(r, "id"), body.ConnectorID)
	h.commandResult(w, r, accepted, err)
}

func (h *apiHandlers) reset(w http.ResponseWriter, r *http.Request) {
	var body resetBody
	if !decodeBody(w, r, &body) {
		return
	}
	accepted, err := h.commands.Reset(r.Context(), chi.URLParam(r, "id"), body.Type)
	h.commandResult(w, r, accepted, err)
}

func (h *apiHandlers) trigger(w http.ResponseWriter, r *http.Request) {
	var body triggerBody
	if !decodeBody(w, r, &body) {
		return
	}
	accepted, err := h.commands.TriggerMessage(r.Context(), chi.URLParam(r, "id"), body.RequestedMessage, body.ConnectorID)
	h.commandResult(w, r, accepted, err)
}

func (h *apiHandlers) availability(w http.ResponseWriter, r *http.Request) {
	var body availabilityBody
	if !decodeBody(w, r, &body) {
		return
	}
	accepted, err := h.commands.ChangeAvailability(r.Context(), chi.URLParam(r, "id"), body.ConnectorID, body.Type)
	h.commandResult(w, r, accepted, err)
}

func (h *apiHandlers) commandResult(w http.ResponseWriter, r *http.Request, accepted bool, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, commandResponse{Accepted: accepted})
		return
	}

	var remote *ocpp.RemoteError
	switch {
	case errors.Is(err, commands.ErrInvalidCommand):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ocpp.ErrDisconnected):
		writeError(w, http.StatusConflict, "charge point is not connected")
	case errors.Is(err, ocpp.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "charge point did not respond in time")
	case errors.As(err, &remote):
		writeError(w, http.StatusBadGateway, remote.Error())
	default:
		h.logger.Error("command failed", zap.String("charge_point_id", chi.URLParam(r, "id")), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(target); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
