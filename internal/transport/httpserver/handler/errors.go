package handler

import (
	"errors"
	"net/http"

	allocationdomain "thread-erp-go/internal/domain/allocation"
	inventorydomain "thread-erp-go/internal/domain/inventory"
	syncdomain "thread-erp-go/internal/domain/sync"
)

type domainError struct {
	status  int
	code    string
	message string
}

// classifyError maps a domain error onto an HTTP status and error code.
// A nil result means the error is unexpected.
func classifyError(err error) *domainError {
	switch {
	case errors.Is(err, inventorydomain.ErrThreadTypeNotFound):
		return &domainError{http.StatusNotFound, "thread_type_not_found", "thread type not found"}
	case errors.Is(err, inventorydomain.ErrConeNotFound):
		return &domainError{http.StatusNotFound, "cone_not_found", "cone not found"}
	case errors.Is(err, allocationdomain.ErrAllocationNotFound):
		return &domainError{http.StatusNotFound, "allocation_not_found", "allocation not found"}
	case errors.Is(err, allocationdomain.ErrConflictNotFound):
		return &domainError{http.StatusNotFound, "conflict_not_found", "allocation conflict not found"}

	case inventorydomain.IsStateConflict(err), errors.Is(err, allocationdomain.ErrInvalidTransition):
		return &domainError{http.StatusConflict, "state_conflict", err.Error()}
	case errors.Is(err, allocationdomain.ErrConflictClosed):
		return &domainError{http.StatusConflict, "conflict_closed", err.Error()}
	case errors.Is(err, syncdomain.ErrIdempotencyKeyPayloadMismatch):
		return &domainError{http.StatusConflict, "idempotency_key_payload_mismatch", "Idempotency-Key was already used with different payload"}
	case errors.Is(err, syncdomain.ErrOperationInProgress):
		return &domainError{http.StatusConflict, "operation_in_progress", "operation is already being processed"}

	case errors.Is(err, allocationdomain.ErrInvalidSplitQuantity):
		return &domainError{http.StatusUnprocessableEntity, "invalid_split_quantity", err.Error()}
	case errors.Is(err, allocationdomain.ErrInvalidPriority):
		return &domainError{http.StatusUnprocessableEntity, "invalid_priority", err.Error()}
	case errors.Is(err, inventorydomain.ErrInvalidQuantity),
		errors.Is(err, inventorydomain.ErrInvalidWeight),
		errors.Is(err, inventorydomain.ErrInvalidInput),
		errors.Is(err, allocationdomain.ErrInvalidInput):
		return &domainError{http.StatusUnprocessableEntity, "validation_failed", err.Error()}

	case errors.Is(err, syncdomain.ErrOperationIDRequired),
		errors.Is(err, syncdomain.ErrPayloadRequired),
		errors.Is(err, syncdomain.ErrUnsupportedOperation),
		errors.Is(err, syncdomain.ErrOperationsRequired):
		return &domainError{http.StatusBadRequest, "invalid_request", err.Error()}
	}
	return nil
}

func (h *Handlers) writeDomainError(w http.ResponseWriter, action string, err error, attrs ...any) {
	if mapped := classifyError(err); mapped != nil {
		h.log.BusinessError(action+": "+mapped.code, err, attrs...)
		writeError(w, mapped.status, mapped.code, mapped.message)
		return
	}
	h.log.InternalError(action+": failed", err, attrs...)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
