package handler

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	syncdomain "thread-erp-go/internal/domain/sync"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	deviceIDHeader       = "X-Device-ID"
	replayedHeader       = "Idempotent-Replayed"

	minIdempotencyKeyLength = 8
	maxIdempotencyKeyLength = 128
)

var operationIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// idempotencyKey reads and validates the optional Idempotency-Key header.
// It writes the error response itself and reports false on invalid input.
func idempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key == "" {
		return "", true
	}
	if !validOperationID(key) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid idempotency key")
		return "", false
	}
	return key, true
}

func validOperationID(value string) bool {
	if len(value) < minIdempotencyKeyLength || len(value) > maxIdempotencyKeyLength {
		return false
	}
	return operationIDRegex.MatchString(value)
}

func deviceID(r *http.Request) string {
	if value := strings.TrimSpace(r.Header.Get(deviceIDHeader)); value != "" {
		return value
	}
	return syncdomain.DefaultDeviceID
}

// applyIdempotent runs a queued client operation through the replay log.
// A replay answers 200 with the stored body, a first execution answers 201.
func (h *Handlers) applyIdempotent(w http.ResponseWriter, r *http.Request, action string, operation syncdomain.OperationInput) {
	startedAt := time.Now()
	device := deviceID(r)
	attrs := []any{
		"operation_id", operation.OperationID,
		"type", operation.Type,
		"device_id", device,
	}

	result, err := h.Sync.Apply(r.Context(), device, operation)
	if err != nil {
		h.replay.ObserveReplay(string(operation.Type), replayOutcome(err))
		h.writeDomainError(w, action, err, append(attrs, "duration_ms", time.Since(startedAt).Milliseconds())...)
		return
	}

	if result.Replayed {
		h.replay.ObserveReplay(string(operation.Type), string(syncdomain.ResultStatusDuplicate))
		h.log.Info(action+": replayed", append(attrs, "duration_ms", time.Since(startedAt).Milliseconds())...)
		w.Header().Set(replayedHeader, "true")
		writeRawJSON(w, http.StatusOK, result.Response)
		return
	}

	h.replay.ObserveReplay(string(operation.Type), string(syncdomain.ResultStatusApplied))
	h.log.Info(action+": applied", append(attrs, "server_id", result.ServerID, "duration_ms", time.Since(startedAt).Milliseconds())...)
	writeRawJSON(w, http.StatusCreated, result.Response)
}

func replayOutcome(err error) string {
	if mapped := classifyError(err); mapped != nil && mapped.status == http.StatusConflict {
		return string(syncdomain.ResultStatusConflict)
	}
	return string(syncdomain.ResultStatusFailed)
}
