package server

import (
	"net/http"

	"github.com/openfleet/beacon/internal/model"
)

// HandleCreateKey handles POST /api/ingest/keys.
// The raw key appears in this response and nowhere else.
func (h *Handlers) HandleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req model.CreateKeyRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}

	key, err := h.keys.Mint(req.Name)
	if err != nil {
		h.writeInternalError(w, r, "failed to mint api key", err)
		return
	}

	h.logger.Info("api key minted", "prefix", key.Prefix, "name", key.Name)
	writeJSON(w, r, http.StatusCreated, key)
}

// HandleListKeys handles GET /api/ingest/keys.
// Hashes are never serialized; only prefixes and metadata are returned.
func (h *Handlers) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.keys.List())
}

// HandleRevokeKey handles DELETE /api/ingest/keys/{prefix}.
func (h *Handlers) HandleRevokeKey(w http.ResponseWriter, r *http.Request) {
	prefix := r.PathValue("prefix")
	if !h.keys.Revoke(prefix) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "key not found or already revoked")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"prefix": prefix, "revoked": true})
}
