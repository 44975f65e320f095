package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"thread-erp-go/internal/changefeed"
)

const defaultThreadTypeCacheTTL = 5 * time.Minute

type Options struct {
	Cache    ThreadTypeCache
	CacheTTL time.Duration
	Events   changefeed.Publisher
}

type Service struct {
	repo     Repository
	cache    ThreadTypeCache
	cacheTTL time.Duration
	events   changefeed.Publisher
	now      func() time.Time
}

func NewService(repo Repository) *Service {
	return NewServiceWithOptions(repo, Options{})
}

func NewServiceWithOptions(repo Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = noopCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultThreadTypeCacheTTL
	}
	if opts.Events == nil {
		opts.Events = changefeed.Nop()
	}

	return &Service{
		repo:     repo,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		events:   opts.Events,
		now:      time.Now,
	}
}

func (s *Service) ThreadType(ctx context.Context, id int64) (*ThreadType, error) {
	if cached, ok := s.cache.Get(id); ok {
		return cached, nil
	}

	threadType, err := s.repo.GetThreadType(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cache.Set(id, threadType, s.cacheTTL)
	return threadType, nil
}

func (s *Service) ListThreadTypes(ctx context.Context) ([]ThreadType, error) {
	return s.repo.ListThreadTypes(ctx)
}

func (s *Service) ListCones(ctx context.Context, filter ConeFilter) ([]Cone, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown cone status %q", ErrInvalidInput, *filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 200
	}
	return s.repo.ListCones(ctx, filter)
}

func (s *Service) Summary(ctx context.Context, warehouseID *int64) ([]StockSummary, error) {
	return s.repo.Summary(ctx, warehouseID)
}

// Receive books a delivery of identical cones into a warehouse as AVAILABLE stock.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (*ReceiveResult, error) {
	if input.ThreadTypeID <= 0 {
		return nil, fmt.Errorf("%w: thread_type_id is required", ErrInvalidInput)
	}
	if input.WarehouseID <= 0 {
		return nil, fmt.Errorf("%w: warehouse_id is required", ErrInvalidInput)
	}
	if input.QuantityCones <= 0 || input.QuantityCones > MaxConesPerReceipt {
		return nil, fmt.Errorf("%w: quantity_cones must be between 1 and %d", ErrInvalidQuantity, MaxConesPerReceipt)
	}
	if input.WeightPerConeGrams != nil && !input.WeightPerConeGrams.IsPositive() {
		return nil, fmt.Errorf("%w: weight_per_cone_grams must be positive", ErrInvalidWeight)
	}

	threadType, err := s.ThreadType(ctx, input.ThreadTypeID)
	if err != nil {
		return nil, err
	}

	metersPerCone := threadType.DefaultMetersPerCone
	if input.WeightPerConeGrams != nil && threadType.MetersPerGram.IsPositive() {
		metersPerCone = input.WeightPerConeGrams.Mul(threadType.MetersPerGram).Round(2)
	}
	if !metersPerCone.IsPositive() {
		return nil, fmt.Errorf("%w: cannot derive meters per cone for thread type %d", ErrInvalidQuantity, threadType.ID)
	}

	now := s.now().UTC()
	cones := make([]Cone, 0, input.QuantityCones)
	for i := 0; i < input.QuantityCones; i++ {
		cones = append(cones, Cone{
			ConeID:         newConeBarcode(),
			ThreadTypeID:   threadType.ID,
			WarehouseID:    input.WarehouseID,
			QuantityMeters: metersPerCone,
			WeightGrams:    cloneDecimal(input.WeightPerConeGrams),
			Status:         ConeStatusAvailable,
			LotNumber:      nonEmpty(input.LotNumber),
			ExpiryDate:     input.ExpiryDate,
			Location:       nonEmpty(input.Location),
			ReceivedDate:   now,
		})
	}

	if err := s.repo.CreateCones(ctx, cones); err != nil {
		return nil, err
	}

	var events changefeed.Recorder
	for _, cone := range cones {
		events.Insert(TableCones, cone)
	}
	events.Flush(s.events, now)

	return &ReceiveResult{
		Cones:       cones,
		TotalMeters: metersPerCone.Mul(decimal.NewFromInt(int64(len(cones)))),
	}, nil
}

// Issue hands AVAILABLE cones to a production department.
func (s *Service) Issue(ctx context.Context, input IssueInput) (*IssueResult, error) {
	coneIDs := uniqueTrimmed(input.ConeIDs)
	if len(coneIDs) == 0 {
		return nil, fmt.Errorf("%w: cone_ids are required", ErrInvalidInput)
	}
	department := strings.TrimSpace(input.Department)
	if department == "" {
		return nil, fmt.Errorf("%w: department is required", ErrInvalidInput)
	}

	var (
		result IssueResult
		events changefeed.Recorder
	)
	result.TotalMeters = decimal.Zero

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		events.Reset()
		result.Cones = result.Cones[:0]
		result.TotalMeters = decimal.Zero

		cones, err := tx.ListConesByBarcodes(ctx, coneIDs)
		if err != nil {
			return err
		}
		if len(cones) != len(coneIDs) {
			return ErrConeNotFound
		}

		for _, cone := range cones {
			if cone.Status != ConeStatusAvailable {
				return fmt.Errorf("%w: %s is %s", ErrConeNotAvailable, cone.ConeID, cone.Status)
			}
		}

		for _, cone := range cones {
			old := cone
			cone.Status = ConeStatusInProduction
			cone.Department = &department
			if err := tx.UpdateCone(ctx, &cone); err != nil {
				return err
			}
			events.Update(TableCones, old, cone)
			result.Cones = append(result.Cones, cone)
			result.TotalMeters = result.TotalMeters.Add(cone.QuantityMeters)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.Flush(s.events, s.now())
	return &result, nil
}

// Recover weighs a cone coming back from production and returns the remainder
// to stock. Without a weight the cone waits in PENDING_WEIGH.
func (s *Service) Recover(ctx context.Context, input RecoveryInput) (*RecoveryResult, error) {
	coneID := strings.TrimSpace(input.ConeID)
	if coneID == "" {
		return nil, fmt.Errorf("%w: cone_id is required", ErrInvalidInput)
	}
	returnedBy := strings.TrimSpace(input.ReturnedBy)
	if returnedBy == "" {
		return nil, fmt.Errorf("%w: returned_by is required", ErrInvalidInput)
	}
	if input.ReturnedWeightGrams != nil && input.ReturnedWeightGrams.IsNegative() {
		return nil, fmt.Errorf("%w: returned_weight_grams must not be negative", ErrInvalidWeight)
	}
	if input.TareWeightGrams != nil && input.TareWeightGrams.IsNegative() {
		return nil, fmt.Errorf("%w: tare_weight_grams must not be negative", ErrInvalidWeight)
	}

	var (
		result RecoveryResult
		events changefeed.Recorder
	)

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		events.Reset()

		cone, err := tx.GetConeByBarcode(ctx, coneID)
		if err != nil {
			return err
		}
		if cone.Status != ConeStatusInProduction {
			return fmt.Errorf("%w: %s is %s", ErrConeNotInProduction, cone.ConeID, cone.Status)
		}

		threadType, err := s.ThreadType(ctx, cone.ThreadTypeID)
		if err != nil {
			return err
		}

		tare := threadType.TareWeightGrams
		if input.TareWeightGrams != nil {
			tare = *input.TareWeightGrams
		}

		recovery := Recovery{
			ConeID:              cone.ID,
			OriginalMeters:      cone.QuantityMeters,
			ReturnedWeightGrams: cloneDecimal(input.ReturnedWeightGrams),
			TareWeightGrams:     tare,
			RemainingMeters:     decimal.Zero,
			ConsumptionMeters:   decimal.Zero,
			ReturnedBy:          returnedBy,
			Notes:               nonEmpty(input.Notes),
		}

		old := *cone
		remaining, weighed := remainingMeters(input.ReturnedWeightGrams, tare, threadType.MetersPerGram, cone.QuantityMeters)
		switch {
		case !weighed:
			recovery.Status = RecoveryStatusPendingWeigh
			cone.Status = ConeStatusPendingWeigh
		case remaining.IsPositive():
			recovery.Status = RecoveryStatusConfirmed
			recovery.RemainingMeters = remaining
			recovery.ConsumptionMeters = cone.QuantityMeters.Sub(remaining)
			net := input.ReturnedWeightGrams.Sub(tare)
			cone.Status = ConeStatusAvailable
			cone.QuantityMeters = remaining
			cone.WeightGrams = &net
			cone.IsPartial = true
			cone.Department = nil
		default:
			recovery.Status = RecoveryStatusConfirmed
			recovery.ConsumptionMeters = cone.QuantityMeters
			cone.Status = ConeStatusConsumed
			cone.QuantityMeters = decimal.Zero
			cone.Department = nil
		}

		if err := tx.CreateRecovery(ctx, &recovery); err != nil {
			return err
		}
		if err := tx.UpdateCone(ctx, cone); err != nil {
			return err
		}

		events.Insert(TableRecoveries, recovery)
		events.Update(TableCones, old, *cone)
		result = RecoveryResult{Recovery: recovery, Cone: *cone}
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.Flush(s.events, s.now())
	return &result, nil
}

// remainingMeters converts a returned gross weight into meters, capped at what was issued.
func remainingMeters(gross *decimal.Decimal, tare, metersPerGram, issued decimal.Decimal) (decimal.Decimal, bool) {
	if gross == nil || !metersPerGram.IsPositive() {
		return decimal.Zero, false
	}
	net := gross.Sub(tare)
	if !net.IsPositive() {
		return decimal.Zero, true
	}
	remaining := net.Mul(metersPerGram).Round(2)
	if remaining.GreaterThan(issued) {
		remaining = issued
	}
	return remaining, true
}

func newConeBarcode() string {
	return "C-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func uniqueTrimmed(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}

func nonEmpty(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func cloneDecimal(value *decimal.Decimal) *decimal.Decimal {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
