// Package apiclient talks to the warehouse API on behalf of the shop-floor agent.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	allocationdomain "thread-erp-go/internal/domain/allocation"
	inventorydomain "thread-erp-go/internal/domain/inventory"
	"thread-erp-go/pkg/logger"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	deviceIDHeader       = "X-Device-ID"
	operatorHeader       = "X-Operator"

	defaultTimeout = 15 * time.Second
	maxErrorBody   = 64 << 10
)

type Config struct {
	BaseURL  string
	Token    string
	DeviceID string
	Operator string
	Timeout  time.Duration
}

type Client struct {
	baseURL  string
	token    string
	deviceID string
	operator string
	http     *http.Client
	log      logger.Logger
}

func New(cfg Config, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    strings.TrimSpace(cfg.Token),
		deviceID: strings.TrimSpace(cfg.DeviceID),
		operator: strings.TrimSpace(cfg.Operator),
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// Health probes GET /api/health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, "", nil)
}

// Send posts a queued operation payload with its id as the idempotency key.
func (c *Client) Send(ctx context.Context, endpoint, operationID string, payload json.RawMessage) error {
	return c.do(ctx, http.MethodPost, endpoint, payload, operationID, nil)
}

func (c *Client) ReceiveStock(ctx context.Context, operationID string, input inventorydomain.ReceiveInput) (*inventorydomain.ReceiveResult, error) {
	var result inventorydomain.ReceiveResult
	if err := c.do(ctx, http.MethodPost, "/api/inventory/receive", input, operationID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) IssueCones(ctx context.Context, operationID string, input inventorydomain.IssueInput) (*inventorydomain.IssueResult, error) {
	var result inventorydomain.IssueResult
	if err := c.do(ctx, http.MethodPost, "/api/inventory/issue", input, operationID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) RecoverCone(ctx context.Context, operationID string, input inventorydomain.RecoveryInput) (*inventorydomain.RecoveryResult, error) {
	var result inventorydomain.RecoveryResult
	if err := c.do(ctx, http.MethodPost, "/api/recovery", input, operationID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) CreateAllocation(ctx context.Context, operationID string, input allocationdomain.CreateInput) (*allocationdomain.Allocation, error) {
	var result allocationdomain.Allocation
	if err := c.do(ctx, http.MethodPost, "/api/allocations", input, operationID, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type ConflictQuery struct {
	Status       string
	ThreadTypeID *int64
}

func (c *Client) ListConflicts(ctx context.Context, query ConflictQuery) ([]allocationdomain.Conflict, error) {
	values := url.Values{}
	if query.Status != "" {
		values.Set("status", query.Status)
	}
	if query.ThreadTypeID != nil {
		values.Set("thread_type_id", strconv.FormatInt(*query.ThreadTypeID, 10))
	}

	var result listResponse[allocationdomain.Conflict]
	if err := c.do(ctx, http.MethodGet, withQuery("/api/allocations/conflicts", values), nil, "", &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

func (c *Client) UpdateAllocationPriority(ctx context.Context, allocationID int64, priority allocationdomain.Priority) (*allocationdomain.Allocation, error) {
	var result allocationdomain.Allocation
	body := map[string]any{"priority": priority}
	if err := c.do(ctx, http.MethodPost, allocationPath(allocationID, "priority"), body, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) CancelAllocation(ctx context.Context, allocationID int64, reason string) (*allocationdomain.Allocation, error) {
	var result allocationdomain.Allocation
	body := map[string]any{"reason": reason}
	if err := c.do(ctx, http.MethodPost, allocationPath(allocationID, "cancel"), body, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) SplitAllocation(ctx context.Context, allocationID int64, splitMeters decimal.Decimal, reason string) (*allocationdomain.SplitResult, error) {
	var result allocationdomain.SplitResult
	body := map[string]any{"split_meters": splitMeters, "reason": reason}
	if err := c.do(ctx, http.MethodPost, allocationPath(allocationID, "split"), body, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) EscalateConflict(ctx context.Context, conflictID int64, notes string) (*allocationdomain.Conflict, error) {
	var result allocationdomain.Conflict
	body := map[string]any{"notes": notes}
	path := "/api/allocations/conflicts/" + strconv.FormatInt(conflictID, 10) + "/escalate"
	if err := c.do(ctx, http.MethodPost, path, body, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) StockSummary(ctx context.Context, warehouseID *int64) ([]inventorydomain.StockSummary, error) {
	values := url.Values{}
	if warehouseID != nil {
		values.Set("warehouse_id", strconv.FormatInt(*warehouseID, 10))
	}

	var result listResponse[inventorydomain.StockSummary]
	if err := c.do(ctx, http.MethodGet, withQuery("/api/inventory/summary", values), nil, "", &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

type ConeQuery struct {
	WarehouseID  *int64
	ThreadTypeID *int64
	Status       string
	Limit        int
}

func (c *Client) ListCones(ctx context.Context, query ConeQuery) ([]inventorydomain.Cone, error) {
	values := url.Values{}
	if query.WarehouseID != nil {
		values.Set("warehouse_id", strconv.FormatInt(*query.WarehouseID, 10))
	}
	if query.ThreadTypeID != nil {
		values.Set("thread_type_id", strconv.FormatInt(*query.ThreadTypeID, 10))
	}
	if query.Status != "" {
		values.Set("status", query.Status)
	}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}

	var result listResponse[inventorydomain.Cone]
	if err := c.do(ctx, http.MethodGet, withQuery("/api/inventory/cones", values), nil, "", &result); err != nil {
		return nil, err
	}
	return result.Items, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	startedAt := time.Now()

	var reader io.Reader
	switch value := body.(type) {
	case nil:
	case json.RawMessage:
		reader = bytes.NewReader(value)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set(deviceIDHeader, c.deviceID)
	}
	if c.operator != "" {
		req.Header.Set(operatorHeader, c.operator)
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyKeyHeader, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.log.Debug("apiclient: request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeStatusError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeStatusError(resp *http.Response) error {
	statusErr := &StatusError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return statusErr
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Code != "" {
		statusErr.Code = envelope.Error.Code
		statusErr.Message = envelope.Error.Message
		return statusErr
	}
	statusErr.Message = strings.TrimSpace(string(raw))
	return statusErr
}

func allocationPath(id int64, action string) string {
	return "/api/allocations/" + strconv.FormatInt(id, 10) + "/" + action
}

func withQuery(path string, values url.Values) string {
	if len(values) == 0 {
		return path
	}
	return path + "?" + values.Encode()
}
