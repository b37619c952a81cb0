package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/openfleet/beacon/internal/ingest"
	"github.com/openfleet/beacon/internal/model"
)

// SSE event types published to /api/stream subscribers.
const (
	streamEventAgent    = "agent"
	streamEventActivity = "activity"
	streamEventCall     = "call"
	streamEventTrace    = "trace"
)

// HandleRegister handles POST /api/ingest/register.
// Registration is idempotent: re-registering overwrites identity fields and
// preserves accumulated metrics.
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req model.Registration
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeInvalid(w, r, err)
		return
	}

	agent := h.registry.Upsert(req)
	h.publish(streamEventAgent, agent)
	writeJSON(w, r, http.StatusOK, agent)
}

// HandleStatus handles POST /api/ingest/status.
// Unknown agents are created on the fly; status transitions are entirely
// caller-declared.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var req model.StatusUpdate
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeInvalid(w, r, err)
		return
	}

	agent := h.registry.SetStatus(req)
	h.publish(streamEventAgent, agent)
	writeJSON(w, r, http.StatusOK, agent)
}

// activityBody tolerates the "type" discriminator SDKs attach to
// self-describing events on the dedicated endpoint.
type activityBody struct {
	model.ActivityEvent
	Type model.EventKind `json:"type,omitempty"`
}

// HandleActivity handles POST /api/ingest/activity.
func (h *Handlers) HandleActivity(w http.ResponseWriter, r *http.Request) {
	var req activityBody
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Type != "" && req.Type != model.KindActivity {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("expected activity event, got %q", req.Type))
		return
	}
	if err := req.ActivityEvent.Validate(); err != nil {
		writeInvalid(w, r, err)
		return
	}

	rec := h.applyActivity(req.ActivityEvent)
	writeJSON(w, r, http.StatusAccepted, rec)
}

// traceBody tolerates the "type" discriminator on the dedicated endpoint.
type traceBody struct {
	model.TraceEvent
	Type model.EventKind `json:"type,omitempty"`
}

// HandleTrace handles POST /api/ingest/trace.
// Non-terminal traces may be resubmitted and replace the stored snapshot;
// resubmitting a terminal trace is a conflict.
func (h *Handlers) HandleTrace(w http.ResponseWriter, r *http.Request) {
	var req traceBody
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Type != "" && req.Type != model.KindTrace {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("expected trace event, got %q", req.Type))
		return
	}
	if err := req.TraceEvent.Validate(); err != nil {
		writeInvalid(w, r, err)
		return
	}

	tr, err := h.applyTrace(r, req.TraceEvent)
	if errors.Is(err, ingest.ErrTraceClosed) {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict,
			fmt.Sprintf("trace %s is already terminal", req.TraceID))
		return
	}
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		writeValidationError(w, r, verr)
		return
	}
	if err != nil {
		h.writeInternalError(w, r, "failed to store trace", err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, tr)
}

// HandleBatch handles POST /api/ingest/batch.
// Entries are applied independently in submission order: one invalid entry is
// reported in its slot without affecting the rest.
func (h *Handlers) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var req model.BatchRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.Events) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "events must be a non-empty array")
		return
	}

	resp := model.BatchResponse{Results: make([]model.BatchEntryResult, 0, len(req.Events))}
	for i, raw := range req.Events {
		ev, err := model.ParseEvent(raw)
		if err == nil {
			err = h.applyEvent(r, ev)
		}
		if err != nil {
			resp.Failed++
			resp.Results = append(resp.Results, model.BatchEntryResult{
				Index: i,
				Error: batchErrorDetail(err),
			})
			continue
		}
		resp.Processed++
		resp.Results = append(resp.Results, model.BatchEntryResult{Index: i, OK: true})
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// applyEvent routes one parsed event to the registry or assembler.
func (h *Handlers) applyEvent(r *http.Request, ev model.Event) error {
	switch ev.Kind {
	case model.KindLLMCall, model.KindToolCall:
		h.applyCall(*ev.Call)
		return nil
	case model.KindActivity:
		h.applyActivity(*ev.Activity)
		return nil
	case model.KindTrace:
		_, err := h.applyTrace(r, *ev.Trace)
		return err
	default:
		return fmt.Errorf("server: unhandled event kind %q", ev.Kind)
	}
}

func (h *Handlers) applyActivity(ev model.ActivityEvent) model.ActivityRecord {
	rec := h.registry.RecordActivity(ev)
	h.publish(streamEventActivity, rec)
	return rec
}

func (h *Handlers) applyCall(ev model.CallEvent) model.CallRecord {
	rec := h.registry.RecordCall(ev)
	if h.buffer != nil {
		// Archival is best-effort: memory is the source of truth, so
		// backpressure here must not reject the ingest request.
		if err := h.buffer.Append(rec); err != nil {
			h.logger.Warn("archive buffer rejected call record", "error", err)
		}
	}
	h.publish(streamEventCall, rec)
	return rec
}

func (h *Handlers) applyTrace(r *http.Request, ev model.TraceEvent) (model.Trace, error) {
	agent := h.registry.Touch(ev.AgentID)
	tr, err := h.assembler.Submit(ev, agent.Name)
	if err != nil {
		return model.Trace{}, err
	}
	if h.archiveDB != nil {
		// Best-effort mirror; a failed archive write never fails ingestion.
		if err := h.archiveDB.UpsertTrace(r.Context(), tr); err != nil {
			h.logger.Warn("archive trace write failed", "trace_id", tr.TraceID, "error", err)
		}
	}
	h.publish(streamEventTrace, tr)
	return tr, nil
}

func (h *Handlers) publish(eventType string, payload any) {
	if h.broker != nil {
		h.broker.Publish(eventType, payload)
	}
}

// writeInvalid writes validation failures with field details when available.
func writeInvalid(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		writeValidationError(w, r, verr)
		return
	}
	writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
}

// batchErrorDetail converts a per-entry failure into an ErrorDetail.
func batchErrorDetail(err error) *model.ErrorDetail {
	if errors.Is(err, ingest.ErrTraceClosed) {
		return &model.ErrorDetail{Code: model.ErrCodeConflict, Message: err.Error()}
	}
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return &model.ErrorDetail{Code: model.ErrCodeInvalidInput, Message: verr.Error(), Details: verr}
	}
	return &model.ErrorDetail{Code: model.ErrCodeInvalidInput, Message: err.Error()}
}
