package agentapi

import (
	"errors"
	"net/http"

	"thread-erp-go/internal/apiclient"
	"thread-erp-go/internal/conflicts"
	"thread-erp-go/internal/offline"
)

type domainError struct {
	status  int
	code    string
	message string
}

// classifyError maps queue, board and upstream errors onto an HTTP status.
// A nil result means the error is unexpected.
func classifyError(err error) *domainError {
	switch {
	case errors.Is(err, offline.ErrOperationNotFound):
		return &domainError{http.StatusNotFound, "operation_not_found", "queued operation not found"}
	case errors.Is(err, conflicts.ErrConflictNotFound):
		return &domainError{http.StatusNotFound, "conflict_not_found", "allocation conflict not found"}

	case errors.Is(err, offline.ErrInvalidResolution),
		errors.Is(err, offline.ErrUnsupportedOperation),
		errors.Is(err, offline.ErrInvalidPayload):
		return &domainError{http.StatusBadRequest, "invalid_request", err.Error()}

	case errors.Is(err, conflicts.ErrInvalidSplitQuantity):
		return &domainError{http.StatusUnprocessableEntity, "invalid_split_quantity", err.Error()}
	case errors.Is(err, conflicts.ErrConflictRequired),
		errors.Is(err, conflicts.ErrAllocationRequired),
		errors.Is(err, conflicts.ErrPriorityRequired),
		errors.Is(err, conflicts.ErrUnsupportedResolution):
		return &domainError{http.StatusUnprocessableEntity, "validation_failed", err.Error()}
	}

	var statusErr *apiclient.StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.Code
		if code == "" {
			code = "upstream_error"
		}
		return &domainError{statusErr.StatusCode, code, statusErr.Message}
	}
	if apiclient.IsConnectivityError(err) {
		return &domainError{http.StatusServiceUnavailable, "server_unreachable", "warehouse server is unreachable"}
	}
	return nil
}

func (h *Handlers) writeDomainError(w http.ResponseWriter, action string, err error, attrs ...any) {
	if mapped := classifyError(err); mapped != nil {
		h.log.BusinessError(action+": "+mapped.code, err, attrs...)
		writeError(w, mapped.status, mapped.code, mapped.message)
		return
	}
	if errors.Is(err, offline.ErrLocalDatabase) {
		h.log.InternalError(action+": local store failed", err, attrs...)
		writeError(w, http.StatusInternalServerError, "local_database_error", "local queue storage failed")
		return
	}
	h.log.InternalError(action+": failed", err, attrs...)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
