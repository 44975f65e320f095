package allocation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"thread-erp-go/internal/changefeed"
	"thread-erp-go/internal/domain/inventory"
)

const (
	systemActor            = "system"
	shortageClearedMessage = "shortage cleared"
	minCompeting           = 2
)

type Options struct {
	Events            changefeed.Publisher
	DisableAutoDetect bool
}

type Service struct {
	repo       Repository
	events     changefeed.Publisher
	autoDetect bool
	now        func() time.Time
}

func NewService(repo Repository) *Service {
	return NewServiceWithOptions(repo, Options{})
}

func NewServiceWithOptions(repo Repository, opts Options) *Service {
	if opts.Events == nil {
		opts.Events = changefeed.Nop()
	}
	return &Service{
		repo:       repo,
		events:     opts.Events,
		autoDetect: !opts.DisableAutoDetect,
		now:        time.Now,
	}
}

func (s *Service) Get(ctx context.Context, id int64) (*Allocation, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter Filter) ([]Allocation, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *filter.Status)
	}
	if filter.Priority != nil && !filter.Priority.Valid() {
		return nil, ErrInvalidPriority
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.List(ctx, filter)
}

func (s *Service) Create(ctx context.Context, input CreateInput) (*Allocation, error) {
	orderID := strings.TrimSpace(input.OrderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrInvalidInput)
	}
	if input.ThreadTypeID <= 0 {
		return nil, fmt.Errorf("%w: thread_type_id is required", ErrInvalidInput)
	}
	if !input.RequestedMeters.IsPositive() {
		return nil, fmt.Errorf("%w: requested_meters must be positive", ErrInvalidInput)
	}

	priority := input.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.Valid() {
		return nil, ErrInvalidPriority
	}

	now := s.now().UTC()
	allocation := Allocation{
		OrderID:               orderID,
		OrderReference:        nonEmpty(input.OrderReference),
		ThreadTypeID:          input.ThreadTypeID,
		RequestedMeters:       input.RequestedMeters,
		AllocatedMeters:       decimal.Zero,
		Status:                StatusPending,
		Priority:              priority,
		PriorityScore:         PriorityScore(priority, input.DueDate, now),
		RequestedDate:         now,
		DueDate:               input.DueDate,
		Notes:                 nonEmpty(input.Notes),
		RequestingWarehouseID: input.RequestingWarehouseID,
		SourceWarehouseID:     input.SourceWarehouseID,
	}

	if err := s.repo.Create(ctx, &allocation); err != nil {
		return nil, err
	}

	var events changefeed.Recorder
	events.Insert(TableAllocations, allocation)
	events.Flush(s.events, now)

	if err := s.afterChange(ctx, allocation.ThreadTypeID); err != nil {
		return nil, err
	}
	return &allocation, nil
}

// RunAllocation soft-allocates AVAILABLE cones (oldest first) to competing
// allocations in priority order, then re-evaluates the thread type for conflicts.
func (s *Service) RunAllocation(ctx context.Context, threadTypeID int64) (*RunResult, error) {
	if threadTypeID <= 0 {
		return nil, fmt.Errorf("%w: thread_type_id is required", ErrInvalidInput)
	}

	var (
		result RunResult
		events changefeed.Recorder
	)

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		events.Reset()
		result = RunResult{ThreadTypeID: threadTypeID}

		competing, err := tx.ListCompeting(ctx, threadTypeID)
		if err != nil {
			return err
		}
		SortByPriority(competing)

		cones, err := tx.ListAvailableCones(ctx, threadTypeID, nil)
		if err != nil {
			return err
		}

		next := 0
		for _, allocation := range competing {
			old := allocation
			need := allocation.Outstanding()

			var taken []int64
			for need.IsPositive() && next < len(cones) {
				cone := cones[next]
				next++

				take := decimal.Min(cone.QuantityMeters, need)
				if err := tx.AssignCone(ctx, &AllocationCone{AllocationID: allocation.ID, ConeID: cone.ID, AllocatedMeters: take}); err != nil {
					return err
				}
				taken = append(taken, cone.ID)
				allocation.AllocatedMeters = allocation.AllocatedMeters.Add(take)
				need = need.Sub(take)

				reserved := cone
				reserved.Status = inventory.ConeStatusSoftAllocated
				events.Update(inventory.TableCones, cone, reserved)
			}

			if len(taken) > 0 {
				if err := tx.SetConeStatus(ctx, taken, inventory.ConeStatusSoftAllocated); err != nil {
					return err
				}
				if !need.IsPositive() {
					allocation.Status = StatusSoft
				}
				if err := tx.Update(ctx, &allocation); err != nil {
					return err
				}
				events.Update(TableAllocations, old, allocation)
			}

			if allocation.Status == StatusSoft {
				result.Allocated = append(result.Allocated, allocation)
			} else {
				result.Waiting = append(result.Waiting, allocation)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	events.Flush(s.events, s.now())

	conflict, err := s.DetectConflicts(ctx, threadTypeID)
	if err != nil {
		return nil, err
	}
	result.Conflict = conflict
	return &result, nil
}

// DetectConflicts keeps at most one open conflict per thread type in line with
// current demand: opened or refreshed while two or more allocations compete for
// less stock than they request, resolved once the shortage disappears.
func (s *Service) DetectConflicts(ctx context.Context, threadTypeID int64) (*Conflict, error) {
	var (
		result *Conflict
		events changefeed.Recorder
	)

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		events.Reset()
		result = nil

		competing, err := tx.ListCompeting(ctx, threadTypeID)
		if err != nil {
			return err
		}
		SortByPriority(competing)

		available, err := tx.SumAvailableMeters(ctx, threadTypeID)
		if err != nil {
			return err
		}

		totalRequested := decimal.Zero
		totalAvailable := available
		for _, allocation := range competing {
			totalRequested = totalRequested.Add(allocation.RequestedMeters)
			totalAvailable = totalAvailable.Add(allocation.AllocatedMeters)
		}
		shortage := totalRequested.Sub(totalAvailable)

		open, err := tx.GetOpenConflict(ctx, threadTypeID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		if len(competing) >= minCompeting && shortage.IsPositive() {
			conflict := open
			if conflict == nil {
				conflict = &Conflict{ThreadTypeID: threadTypeID, Status: ConflictStatusPending}
			}
			old := *conflict
			conflict.TotalRequested = totalRequested
			conflict.TotalAvailable = totalAvailable
			conflict.Shortage = shortage

			if err := tx.SaveConflict(ctx, conflict); err != nil {
				return err
			}

			ids := make([]int64, 0, len(competing))
			for _, allocation := range competing {
				ids = append(ids, allocation.ID)
			}
			if err := tx.ReplaceConflictMembers(ctx, conflict.ID, ids); err != nil {
				return err
			}

			conflict.CompetingAllocations = competing
			if open == nil {
				events.Insert(TableConflicts, conflict)
			} else {
				events.Update(TableConflicts, old, conflict)
			}
			result = conflict
			return nil
		}

		if open == nil {
			return nil
		}

		old := *open
		message := shortageClearedMessage
		actor := systemActor
		open.Status = ConflictStatusResolved
		open.ResolvedAt = &now
		open.ResolvedBy = &actor
		open.ResolutionNotes = appendNote(open.ResolutionNotes, message)
		if !shortage.IsPositive() {
			open.Shortage = decimal.Zero
		}
		if err := tx.SaveConflict(ctx, open); err != nil {
			return err
		}
		open.CompetingAllocations = competing
		events.Update(TableConflicts, old, open)
		result = open
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.Flush(s.events, s.now())
	return result, nil
}

// ValidateSplit is the split decision point shared by the server and clients.
func ValidateSplit(allocation Allocation, splitMeters decimal.Decimal) error {
	if !splitMeters.IsPositive() || !splitMeters.LessThan(allocation.RequestedMeters) {
		return ErrInvalidSplitQuantity
	}
	return nil
}

// Split carves splitMeters off an open allocation into a new PENDING allocation.
// The original's cones return to the general pool and both allocations wait for
// the next allocation pass.
func (s *Service) Split(ctx context.Context, input SplitInput) (*SplitResult, error) {
	var (
		result SplitResult
		events changefeed.Recorder
	)

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		events.Reset()

		original, err := tx.GetForUpdate(ctx, input.AllocationID)
		if err != nil {
			return err
		}
		if !original.Status.Open() {
			return fmt.Errorf("%w: cannot split %s allocation", ErrInvalidTransition, original.Status)
		}
		if err := ValidateSplit(*original, input.SplitMeters); err != nil {
			return err
		}

		if err := s.releaseCones(ctx, tx, original.ID, &events); err != nil {
			return err
		}

		now := s.now().UTC()
		old := *original
		original.RequestedMeters = original.RequestedMeters.Sub(input.SplitMeters)
		original.AllocatedMeters = decimal.Zero
		original.Status = StatusPending
		if err := tx.Update(ctx, original); err != nil {
			return err
		}
		events.Update(TableAllocations, old, *original)

		parentID := original.ID
		created := Allocation{
			OrderID:               original.OrderID,
			OrderReference:        original.OrderReference,
			ThreadTypeID:          original.ThreadTypeID,
			RequestedMeters:       input.SplitMeters,
			AllocatedMeters:       decimal.Zero,
			Status:                StatusPending,
			Priority:              original.Priority,
			PriorityScore:         original.PriorityScore,
			RequestedDate:         now,
			DueDate:               original.DueDate,
			Notes:                 nonEmpty(input.Reason),
			RequestingWarehouseID: original.RequestingWarehouseID,
			SourceWarehouseID:     original.SourceWarehouseID,
			SplitFromID:           &parentID,
		}
		if err := tx.Create(ctx, &created); err != nil {
			return err
		}
		events.Insert(TableAllocations, created)

		result = SplitResult{Original: *original, Created: created}
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.Flush(s.events, s.now())
	if err := s.afterChange(ctx, result.Original.ThreadTypeID); err != nil {
		return nil, err
	}
	return &result, nil
}

// Cancel withdraws an open allocation and releases its cones.
func (s *Service) Cancel(ctx context.Context, id int64, reason string) (*Allocation, error) {
	var (
		result Allocation
		events changefeed.Recorder
	)

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		events.Reset()

		allocation, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !allocation.Status.Open() {
			return fmt.Errorf("%w: cannot cancel %s allocation", ErrInvalidTransition, allocation.Status)
		}

		if err := s.releaseCones(ctx, tx, allocation.ID, &events); err != nil {
			return err
		}

		old := *allocation
		allocation.Status = StatusCancelled
		allocation.AllocatedMeters = decimal.Zero
		if reason = strings.TrimSpace(reason); reason != "" {
			allocation.Notes = appendNote(allocation.Notes, "cancelled: "+reason)
		}
		if err := tx.Update(ctx, allocation); err != nil {
			return err
		}
		events.Update(TableAllocations, old, *allocation)

		result = *allocation
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.Flush(s.events, s.now())
	if err := s.afterChange(ctx, result.ThreadTypeID); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdatePriority changes the tie-break order for the next allocation pass.
// It does not move stock by itself.
func (s *Service) UpdatePriority(ctx context.Context, id int64, priority Priority) (*Allocation, error) {
	if !priority.Valid() {
		return nil, ErrInvalidPriority
	}

	var (
		result Allocation
		events changefeed.Recorder
	)

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		events.Reset()

		allocation, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !allocation.Status.Open() {
			return fmt.Errorf("%w: cannot reprioritise %s allocation", ErrInvalidTransition, allocation.Status)
		}

		old := *allocation
		allocation.Priority = priority
		allocation.PriorityScore = PriorityScore(priority, allocation.DueDate, s.now())
		if err := tx.Update(ctx, allocation); err != nil {
			return err
		}
		events.Update(TableAllocations, old, *allocation)

		result = *allocation
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.Flush(s.events, s.now())
	if err := s.afterChange(ctx, result.ThreadTypeID); err != nil {
		return nil, err
	}
	return &result, nil
}

// Issue hands a fully allocated allocation's cones to production.
func (s *Service) Issue(ctx context.Context, id int64) (*Allocation, error) {
	var (
		result Allocation
		events changefeed.Recorder
	)

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		events.Reset()

		allocation, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if allocation.Status != StatusSoft && allocation.Status != StatusHard {
			return fmt.Errorf("%w: cannot issue %s allocation", ErrInvalidTransition, allocation.Status)
		}

		coneIDs, err := tx.ConeIDsForAllocation(ctx, allocation.ID)
		if err != nil {
			return err
		}
		if len(coneIDs) > 0 {
			if err := tx.SetConeStatus(ctx, coneIDs, inventory.ConeStatusInProduction); err != nil {
				return err
			}
			for _, coneID := range coneIDs {
				events.Update(inventory.TableCones,
					changefeed.Row{"id": coneID},
					changefeed.Row{"id": coneID, "status": inventory.ConeStatusInProduction})
			}
		}

		old := *allocation
		allocation.Status = StatusIssued
		if err := tx.Update(ctx, allocation); err != nil {
			return err
		}
		events.Update(TableAllocations, old, *allocation)

		result = *allocation
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.Flush(s.events, s.now())
	return &result, nil
}

func (s *Service) GetConflict(ctx context.Context, id int64) (*Conflict, error) {
	return s.repo.GetConflict(ctx, id)
}

func (s *Service) ListConflicts(ctx context.Context, filter ConflictFilter) ([]Conflict, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown conflict status %q", ErrInvalidInput, *filter.Status)
	}
	return s.repo.ListConflicts(ctx, filter)
}

// Escalate hands a conflict to a supervisor. Escalating twice only appends notes.
func (s *Service) Escalate(ctx context.Context, conflictID int64, notes, actor string) (*Conflict, error) {
	var (
		result Conflict
		events changefeed.Recorder
	)

	err := s.repo.Transaction(ctx, func(tx Repository) error {
		events.Reset()

		conflict, err := tx.GetConflict(ctx, conflictID)
		if err != nil {
			return err
		}
		if conflict.Status == ConflictStatusResolved {
			return ErrConflictClosed
		}

		old := *conflict
		conflict.Status = ConflictStatusEscalated
		message := "escalated"
		if actor = strings.TrimSpace(actor); actor != "" {
			message += " by " + actor
		}
		if notes = strings.TrimSpace(notes); notes != "" {
			message += ": " + notes
		}
		conflict.ResolutionNotes = appendNote(conflict.ResolutionNotes, message)
		if err := tx.SaveConflict(ctx, conflict); err != nil {
			return err
		}
		events.Update(TableConflicts, old, *conflict)

		result = *conflict
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.Flush(s.events, s.now())
	return &result, nil
}

func (s *Service) releaseCones(ctx context.Context, tx Repository, allocationID int64, events *changefeed.Recorder) error {
	coneIDs, err := tx.ReleaseCones(ctx, allocationID)
	if err != nil {
		return err
	}
	if len(coneIDs) == 0 {
		return nil
	}
	if err := tx.SetConeStatus(ctx, coneIDs, inventory.ConeStatusAvailable); err != nil {
		return err
	}
	for _, coneID := range coneIDs {
		events.Update(inventory.TableCones,
			changefeed.Row{"id": coneID, "status": inventory.ConeStatusSoftAllocated},
			changefeed.Row{"id": coneID, "status": inventory.ConeStatusAvailable})
	}
	return nil
}

func (s *Service) afterChange(ctx context.Context, threadTypeID int64) error {
	if !s.autoDetect {
		return nil
	}
	_, err := s.DetectConflicts(ctx, threadTypeID)
	return err
}

func appendNote(existing *string, note string) *string {
	if existing == nil || strings.TrimSpace(*existing) == "" {
		return &note
	}
	combined := *existing + "\n" + note
	return &combined
}

func nonEmpty(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
