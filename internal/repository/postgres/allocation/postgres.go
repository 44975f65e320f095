package allocation

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	allocationdomain "thread-erp-go/internal/domain/allocation"
	inventorydomain "thread-erp-go/internal/domain/inventory"
)

type PostgresRepository struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Transaction(ctx context.Context, fn func(allocationdomain.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresRepository{db: tx})
	})
}

func (r *PostgresRepository) Create(ctx context.Context, allocation *allocationdomain.Allocation) error {
	return r.db.WithContext(ctx).Create(allocation).Error
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (*allocationdomain.Allocation, error) {
	return r.get(r.db.WithContext(ctx), id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id int64) (*allocationdomain.Allocation, error) {
	return r.get(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *PostgresRepository) get(query *gorm.DB, id int64) (*allocationdomain.Allocation, error) {
	var allocation allocationdomain.Allocation
	if err := query.First(&allocation, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, allocationdomain.ErrAllocationNotFound
		}
		return nil, err
	}
	return &allocation, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter allocationdomain.Filter) ([]allocationdomain.Allocation, error) {
	query := r.db.WithContext(ctx).Model(&allocationdomain.Allocation{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.ThreadTypeID != nil {
		query = query.Where("thread_type_id = ?", *filter.ThreadTypeID)
	}
	if filter.OrderID != "" {
		query = query.Where("order_id = ?", filter.OrderID)
	}
	if filter.Priority != nil {
		query = query.Where("priority = ?", *filter.Priority)
	}

	query = query.Order("priority_score desc, requested_date asc, id asc")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var allocations []allocationdomain.Allocation
	if err := query.Find(&allocations).Error; err != nil {
		return nil, err
	}
	return allocations, nil
}

func (r *PostgresRepository) Update(ctx context.Context, allocation *allocationdomain.Allocation) error {
	result := r.db.WithContext(ctx).
		Model(&allocationdomain.Allocation{}).
		Where("id = ?", allocation.ID).
		Updates(map[string]interface{}{
			"requested_meters": allocation.RequestedMeters,
			"allocated_meters": allocation.AllocatedMeters,
			"status":           allocation.Status,
			"priority":         allocation.Priority,
			"priority_score":   allocation.PriorityScore,
			"notes":            allocation.Notes,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return allocationdomain.ErrAllocationNotFound
	}
	return nil
}

func (r *PostgresRepository) ListCompeting(ctx context.Context, threadTypeID int64) ([]allocationdomain.Allocation, error) {
	var allocations []allocationdomain.Allocation
	if err := r.db.WithContext(ctx).
		Where("thread_type_id = ? AND status IN ?", threadTypeID,
			[]allocationdomain.Status{allocationdomain.StatusPending, allocationdomain.StatusWaitlisted}).
		Order("id asc").
		Find(&allocations).Error; err != nil {
		return nil, err
	}
	return allocations, nil
}

func (r *PostgresRepository) ListAvailableCones(ctx context.Context, threadTypeID int64, warehouseID *int64) ([]inventorydomain.Cone, error) {
	query := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("thread_type_id = ? AND status = ?", threadTypeID, inventorydomain.ConeStatusAvailable)
	if warehouseID != nil {
		query = query.Where("warehouse_id = ?", *warehouseID)
	}

	var cones []inventorydomain.Cone
	if err := query.Order("received_date asc, id asc").Find(&cones).Error; err != nil {
		return nil, err
	}
	return cones, nil
}

func (r *PostgresRepository) SumAvailableMeters(ctx context.Context, threadTypeID int64) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal `gorm:"column:total"`
	}
	if err := r.db.WithContext(ctx).
		Table(inventorydomain.TableCones).
		Select("COALESCE(SUM(quantity_meters), 0) AS total").
		Where("thread_type_id = ? AND status = ?", threadTypeID, inventorydomain.ConeStatusAvailable).
		Scan(&row).Error; err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}

func (r *PostgresRepository) AssignCone(ctx context.Context, assignment *allocationdomain.AllocationCone) error {
	return r.db.WithContext(ctx).Create(assignment).Error
}

func (r *PostgresRepository) ConeIDsForAllocation(ctx context.Context, allocationID int64) ([]int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).
		Model(&allocationdomain.AllocationCone{}).
		Where("allocation_id = ?", allocationID).
		Order("id asc").
		Pluck("cone_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PostgresRepository) ReleaseCones(ctx context.Context, allocationID int64) ([]int64, error) {
	ids, err := r.ConeIDsForAllocation(ctx, allocationID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := r.db.WithContext(ctx).
		Where("allocation_id = ?", allocationID).
		Delete(&allocationdomain.AllocationCone{}).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PostgresRepository) SetConeStatus(ctx context.Context, coneIDs []int64, status inventorydomain.ConeStatus) error {
	if len(coneIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&inventorydomain.Cone{}).
		Where("id IN ?", coneIDs).
		Update("status", status).Error
}

func (r *PostgresRepository) GetConflict(ctx context.Context, id int64) (*allocationdomain.Conflict, error) {
	var conflict allocationdomain.Conflict
	if err := r.db.WithContext(ctx).First(&conflict, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, allocationdomain.ErrConflictNotFound
		}
		return nil, err
	}

	conflicts := []allocationdomain.Conflict{conflict}
	if err := r.loadMembers(ctx, conflicts); err != nil {
		return nil, err
	}
	return &conflicts[0], nil
}

func (r *PostgresRepository) GetOpenConflict(ctx context.Context, threadTypeID int64) (*allocationdomain.Conflict, error) {
	var conflict allocationdomain.Conflict
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("thread_type_id = ? AND status IN ?", threadTypeID,
			[]allocationdomain.ConflictStatus{allocationdomain.ConflictStatusPending, allocationdomain.ConflictStatusEscalated}).
		Order("id desc").
		First(&conflict).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conflict, nil
}

func (r *PostgresRepository) SaveConflict(ctx context.Context, conflict *allocationdomain.Conflict) error {
	if conflict.ID == 0 {
		return r.db.WithContext(ctx).Create(conflict).Error
	}
	return r.db.WithContext(ctx).Save(conflict).Error
}

func (r *PostgresRepository) ReplaceConflictMembers(ctx context.Context, conflictID int64, allocationIDs []int64) error {
	if err := r.db.WithContext(ctx).
		Where("conflict_id = ?", conflictID).
		Delete(&allocationdomain.ConflictMember{}).Error; err != nil {
		return err
	}
	if len(allocationIDs) == 0 {
		return nil
	}

	members := make([]allocationdomain.ConflictMember, 0, len(allocationIDs))
	for i, id := range allocationIDs {
		members = append(members, allocationdomain.ConflictMember{
			ConflictID:   conflictID,
			AllocationID: id,
			Rank:         i + 1,
		})
	}
	return r.db.WithContext(ctx).Create(&members).Error
}

func (r *PostgresRepository) ListConflicts(ctx context.Context, filter allocationdomain.ConflictFilter) ([]allocationdomain.Conflict, error) {
	query := r.db.WithContext(ctx).Model(&allocationdomain.Conflict{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.ThreadTypeID != nil {
		query = query.Where("thread_type_id = ?", *filter.ThreadTypeID)
	}

	var conflicts []allocationdomain.Conflict
	if err := query.Order("created_at desc, id desc").Find(&conflicts).Error; err != nil {
		return nil, err
	}
	if err := r.loadMembers(ctx, conflicts); err != nil {
		return nil, err
	}
	return conflicts, nil
}

// loadMembers fills CompetingAllocations in rank order.
func (r *PostgresRepository) loadMembers(ctx context.Context, conflicts []allocationdomain.Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}

	conflictIDs := make([]int64, 0, len(conflicts))
	for _, conflict := range conflicts {
		conflictIDs = append(conflictIDs, conflict.ID)
	}

	var members []allocationdomain.ConflictMember
	if err := r.db.WithContext(ctx).
		Where("conflict_id IN ?", conflictIDs).
		Order("conflict_id asc, rank asc").
		Find(&members).Error; err != nil {
		return err
	}
	if len(members) == 0 {
		for i := range conflicts {
			conflicts[i].CompetingAllocations = []allocationdomain.Allocation{}
		}
		return nil
	}

	allocationIDs := make([]int64, 0, len(members))
	for _, member := range members {
		allocationIDs = append(allocationIDs, member.AllocationID)
	}

	var allocations []allocationdomain.Allocation
	if err := r.db.WithContext(ctx).Where("id IN ?", allocationIDs).Find(&allocations).Error; err != nil {
		return err
	}
	byID := make(map[int64]allocationdomain.Allocation, len(allocations))
	for _, allocation := range allocations {
		byID[allocation.ID] = allocation
	}

	grouped := make(map[int64][]allocationdomain.Allocation, len(conflicts))
	for _, member := range members {
		if allocation, ok := byID[member.AllocationID]; ok {
			grouped[member.ConflictID] = append(grouped[member.ConflictID], allocation)
		}
	}
	for i := range conflicts {
		competing := grouped[conflicts[i].ID]
		if competing == nil {
			competing = []allocationdomain.Allocation{}
		}
		conflicts[i].CompetingAllocations = competing
	}
	return nil
}
