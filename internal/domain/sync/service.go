package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"thread-erp-go/internal/domain/allocation"
	"thread-erp-go/internal/domain/inventory"
)

const DefaultDeviceID = "default"

type InventoryService interface {
	Receive(ctx context.Context, input inventory.ReceiveInput) (*inventory.ReceiveResult, error)
	Issue(ctx context.Context, input inventory.IssueInput) (*inventory.IssueResult, error)
	Recover(ctx context.Context, input inventory.RecoveryInput) (*inventory.RecoveryResult, error)
}

type AllocationService interface {
	Create(ctx context.Context, input allocation.CreateInput) (*allocation.Allocation, error)
}

type Service struct {
	repo        Repository
	inventory   InventoryService
	allocations AllocationService
	now         func() time.Time
}

func NewService(repo Repository, stock InventoryService, allocations AllocationService) *Service {
	return &Service{
		repo:        repo,
		inventory:   stock,
		allocations: allocations,
		now:         time.Now,
	}
}

// Apply executes one client operation at most once per (device, operation id).
// A repeated call with the same payload returns the stored response. A failed
// execution releases the reservation so the client may retry it.
func (s *Service) Apply(ctx context.Context, deviceID string, operation OperationInput) (*ApplyResult, error) {
	operation.OperationID = strings.TrimSpace(operation.OperationID)
	if operation.OperationID == "" {
		return nil, ErrOperationIDRequired
	}
	if !operation.Type.Valid() {
		return nil, ErrUnsupportedOperation
	}

	payloadHash, err := hashOperation(operation)
	if err != nil {
		return nil, err
	}

	reserved := &OperationRecord{
		ID:            uuid.NewString(),
		DeviceID:      normalizeDeviceID(deviceID),
		OperationID:   operation.OperationID,
		OperationType: operation.Type,
		PayloadHash:   payloadHash,
		Status:        OperationStatePending,
	}

	created, existing, err := s.repo.ReserveOperation(ctx, reserved)
	if err != nil {
		return nil, err
	}
	if !created {
		return resultFromExisting(operation, existing, payloadHash)
	}

	entity, serverID, response, err := s.execute(ctx, operation)
	if err != nil {
		if releaseErr := s.repo.ReleaseOperation(ctx, reserved.ID); releaseErr != nil {
			return nil, errors.Join(err, releaseErr)
		}
		return nil, err
	}

	encoded, err := json.Marshal(response)
	if err != nil {
		return nil, err
	}

	completed := *reserved
	completed.Status = OperationStateApplied
	completed.Entity = &entity
	completed.ServerID = nonEmptyStringPtr(serverID)
	completed.ResponseJSON = encoded
	if err := s.repo.CompleteOperation(ctx, &completed); err != nil {
		return nil, err
	}

	return &ApplyResult{
		OperationID: operation.OperationID,
		Entity:      entity,
		ServerID:    serverID,
		Response:    encoded,
	}, nil
}

func (s *Service) ProcessBatch(ctx context.Context, input BatchInput) (*BatchResponse, error) {
	if len(input.Operations) == 0 {
		return nil, ErrOperationsRequired
	}
	if len(input.Operations) > MaxBatchOperations {
		return nil, ErrBatchTooLarge
	}

	syncID := uuid.NewString()
	deviceID := normalizeDeviceID(input.DeviceID)

	requestHash, err := hashRequest(input.Operations)
	if err != nil {
		return nil, err
	}

	idempotencyKey := strings.TrimSpace(input.IdempotencyKey)
	batchCreated := false

	if idempotencyKey != "" {
		batch := &BatchRecord{
			ID:             syncID,
			DeviceID:       deviceID,
			IdempotencyKey: &idempotencyKey,
			RequestHash:    requestHash,
			Status:         BatchStateProcessing,
		}

		created, existing, err := s.repo.BeginBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		if !created {
			if existing == nil {
				return nil, ErrBatchInProgress
			}
			if existing.RequestHash != requestHash {
				return nil, ErrIdempotencyKeyPayloadMismatch
			}
			if existing.Status == BatchStateCompleted && len(existing.ResponseJSON) > 0 {
				var cached BatchResponse
				if err := json.Unmarshal(existing.ResponseJSON, &cached); err == nil {
					return &cached, nil
				}
			}
			return nil, ErrBatchInProgress
		}

		batchCreated = true
	}

	response := BatchResponse{
		SyncID:  syncID,
		Results: make([]OperationResult, 0, len(input.Operations)),
		Summary: BatchSummary{
			Total: len(input.Operations),
		},
		ServerTime: s.now().UTC(),
	}

	for _, operation := range input.Operations {
		result := s.processOperation(ctx, deviceID, operation)
		response.Results = append(response.Results, result)

		switch result.Status {
		case ResultStatusApplied:
			response.Summary.Applied++
		case ResultStatusDuplicate:
			response.Summary.Duplicate++
		case ResultStatusConflict:
			response.Summary.Conflict++
		default:
			response.Summary.Failed++
		}
	}

	response.Status = deriveBatchStatus(response.Summary)

	if batchCreated {
		if encoded, err := json.Marshal(response); err == nil {
			_ = s.repo.CompleteBatch(ctx, syncID, BatchStateCompleted, encoded)
		}
	}

	return &response, nil
}

func (s *Service) processOperation(ctx context.Context, deviceID string, operation OperationInput) OperationResult {
	base := OperationResult{
		OperationID: operation.OperationID,
		Type:        operation.Type,
	}

	applied, err := s.Apply(ctx, deviceID, operation)
	if err != nil {
		return failResult(base, err)
	}

	result := base
	result.Status = ResultStatusApplied
	if applied.Replayed {
		result.Status = ResultStatusDuplicate
	}
	entity := applied.Entity
	result.Entity = &entity
	result.ServerID = nonEmptyStringPtr(applied.ServerID)
	result.Response = applied.Response
	return result
}

func (s *Service) execute(ctx context.Context, operation OperationInput) (Entity, string, any, error) {
	switch operation.Type {
	case OperationTypeStockReceipt:
		if operation.StockReceipt == nil {
			return "", "", nil, ErrPayloadRequired
		}
		result, err := s.inventory.Receive(ctx, *operation.StockReceipt)
		if err != nil {
			return "", "", nil, err
		}
		return EntityCone, coneBarcodes(result.Cones), result, nil

	case OperationTypeIssue:
		if operation.Issue == nil {
			return "", "", nil, ErrPayloadRequired
		}
		result, err := s.inventory.Issue(ctx, *operation.Issue)
		if err != nil {
			return "", "", nil, err
		}
		return EntityCone, coneBarcodes(result.Cones), result, nil

	case OperationTypeRecovery:
		if operation.Recovery == nil {
			return "", "", nil, ErrPayloadRequired
		}
		result, err := s.inventory.Recover(ctx, *operation.Recovery)
		if err != nil {
			return "", "", nil, err
		}
		return EntityRecovery, strconv.FormatInt(result.Recovery.ID, 10), result, nil

	case OperationTypeAllocation:
		if operation.Allocation == nil {
			return "", "", nil, ErrPayloadRequired
		}
		result, err := s.allocations.Create(ctx, *operation.Allocation)
		if err != nil {
			return "", "", nil, err
		}
		return EntityAllocation, strconv.FormatInt(result.ID, 10), result, nil

	default:
		return "", "", nil, ErrUnsupportedOperation
	}
}

func resultFromExisting(operation OperationInput, existing *OperationRecord, payloadHash string) (*ApplyResult, error) {
	if existing == nil {
		return nil, ErrOperationInProgress
	}
	if existing.PayloadHash != payloadHash {
		return nil, ErrIdempotencyKeyPayloadMismatch
	}
	if existing.Status != OperationStateApplied {
		return nil, ErrOperationInProgress
	}

	result := &ApplyResult{
		OperationID: operation.OperationID,
		Replayed:    true,
		ServerID:    valueOr(existing.ServerID, ""),
		Response:    json.RawMessage(existing.ResponseJSON),
	}
	if existing.Entity != nil {
		result.Entity = *existing.Entity
	}
	return result, nil
}

// failResult maps an operation error onto the batch result vocabulary. Stock
// state clashes are reported as conflicts so the client parks the operation.
func failResult(base OperationResult, err error) OperationResult {
	status := ResultStatusFailed
	code := ErrorCodeInternalError
	message := "internal error"
	retryable := true

	switch {
	case errors.Is(err, ErrOperationIDRequired), errors.Is(err, ErrPayloadRequired):
		code, message, retryable = ErrorCodeInvalidRequest, err.Error(), false
	case errors.Is(err, ErrUnsupportedOperation):
		code, message, retryable = ErrorCodeUnsupportedOperationType, err.Error(), false
	case errors.Is(err, ErrIdempotencyKeyPayloadMismatch):
		code, message, retryable = ErrorCodeOperationPayloadMismatch, "operation_id already used with different payload", false
	case errors.Is(err, ErrOperationInProgress):
		code, message = ErrorCodeOperationInProgress, err.Error()
	case errors.Is(err, inventory.ErrThreadTypeNotFound):
		code, message, retryable = ErrorCodeThreadTypeNotFound, err.Error(), false
	case errors.Is(err, inventory.ErrConeNotFound):
		code, message, retryable = ErrorCodeConeNotFound, err.Error(), false
	case inventory.IsStateConflict(err), errors.Is(err, allocation.ErrInvalidTransition):
		status = ResultStatusConflict
		code, message, retryable = ErrorCodeStateConflict, err.Error(), false
	case errors.Is(err, inventory.ErrInvalidInput),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, inventory.ErrInvalidWeight),
		errors.Is(err, allocation.ErrInvalidInput),
		errors.Is(err, allocation.ErrInvalidPriority):
		code, message, retryable = ErrorCodeValidationFailed, err.Error(), false
	}

	base.Status = status
	base.Error = &OperationError{
		Code:      code,
		Message:   message,
		Retryable: retryable,
	}
	return base
}

func deriveBatchStatus(summary BatchSummary) BatchStatus {
	if summary.Failed == 0 && summary.Conflict == 0 {
		return BatchStatusSuccess
	}
	if summary.Applied > 0 || summary.Duplicate > 0 {
		return BatchStatusPartialSuccess
	}
	return BatchStatusFailed
}

func hashRequest(operations []OperationInput) (string, error) {
	hashes := make([]string, 0, len(operations))
	for _, operation := range operations {
		hash, err := hashOperation(operation)
		if err != nil {
			return "", err
		}
		hashes = append(hashes, operation.OperationID+":"+hash)
	}
	return hashValue(hashes)
}

func hashOperation(operation OperationInput) (string, error) {
	var payload interface{}
	switch operation.Type {
	case OperationTypeStockReceipt:
		payload = operation.StockReceipt
	case OperationTypeIssue:
		payload = operation.Issue
	case OperationTypeRecovery:
		payload = operation.Recovery
	case OperationTypeAllocation:
		payload = operation.Allocation
	default:
		payload = map[string]string{"type": string(operation.Type)}
	}

	value := struct {
		Type    OperationType `json:"type"`
		Payload interface{}   `json:"payload"`
	}{
		Type:    operation.Type,
		Payload: payload,
	}

	return hashValue(value)
}

func hashValue(value interface{}) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

func coneBarcodes(cones []inventory.Cone) string {
	barcodes := make([]string, 0, len(cones))
	for _, cone := range cones {
		barcodes = append(barcodes, cone.ConeID)
	}
	return strings.Join(barcodes, ",")
}

func normalizeDeviceID(deviceID string) string {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return DefaultDeviceID
	}
	return deviceID
}

func nonEmptyStringPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func valueOr[T any](value *T, fallback T) T {
	if value == nil {
		return fallback
	}
	return *value
}
