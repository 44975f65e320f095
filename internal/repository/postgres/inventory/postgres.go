package inventory

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	inventorydomain "thread-erp-go/internal/domain/inventory"
)

type PostgresRepository struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Transaction(ctx context.Context, fn func(inventorydomain.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresRepository{db: tx})
	})
}

func (r *PostgresRepository) GetThreadType(ctx context.Context, id int64) (*inventorydomain.ThreadType, error) {
	var threadType inventorydomain.ThreadType
	if err := r.db.WithContext(ctx).First(&threadType, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, inventorydomain.ErrThreadTypeNotFound
		}
		return nil, err
	}
	return &threadType, nil
}

func (r *PostgresRepository) ListThreadTypes(ctx context.Context) ([]inventorydomain.ThreadType, error) {
	var threadTypes []inventorydomain.ThreadType
	if err := r.db.WithContext(ctx).Order("code asc").Find(&threadTypes).Error; err != nil {
		return nil, err
	}
	return threadTypes, nil
}

func (r *PostgresRepository) CreateCones(ctx context.Context, cones []inventorydomain.Cone) error {
	if len(cones) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&cones, 100).Error
}

func (r *PostgresRepository) GetConeByBarcode(ctx context.Context, coneID string) (*inventorydomain.Cone, error) {
	var cone inventorydomain.Cone
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("cone_id = ?", coneID).
		First(&cone).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, inventorydomain.ErrConeNotFound
		}
		return nil, err
	}
	return &cone, nil
}

func (r *PostgresRepository) ListConesByBarcodes(ctx context.Context, coneIDs []string) ([]inventorydomain.Cone, error) {
	if len(coneIDs) == 0 {
		return nil, nil
	}

	var cones []inventorydomain.Cone
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("cone_id IN ?", coneIDs).
		Order("id asc").
		Find(&cones).Error; err != nil {
		return nil, err
	}
	return cones, nil
}

func (r *PostgresRepository) ListCones(ctx context.Context, filter inventorydomain.ConeFilter) ([]inventorydomain.Cone, error) {
	query := r.db.WithContext(ctx).Model(&inventorydomain.Cone{})
	if filter.WarehouseID != nil {
		query = query.Where("warehouse_id = ?", *filter.WarehouseID)
	}
	if filter.ThreadTypeID != nil {
		query = query.Where("thread_type_id = ?", *filter.ThreadTypeID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	query = query.Order("received_date asc, id asc")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var cones []inventorydomain.Cone
	if err := query.Find(&cones).Error; err != nil {
		return nil, err
	}
	return cones, nil
}

func (r *PostgresRepository) UpdateCone(ctx context.Context, cone *inventorydomain.Cone) error {
	result := r.db.WithContext(ctx).
		Model(&inventorydomain.Cone{}).
		Where("id = ?", cone.ID).
		Updates(map[string]interface{}{
			"quantity_meters": cone.QuantityMeters,
			"weight_grams":    cone.WeightGrams,
			"is_partial":      cone.IsPartial,
			"status":          cone.Status,
			"location":        cone.Location,
			"department":      cone.Department,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return inventorydomain.ErrConeNotFound
	}
	return nil
}

func (r *PostgresRepository) CreateRecovery(ctx context.Context, recovery *inventorydomain.Recovery) error {
	return r.db.WithContext(ctx).Create(recovery).Error
}

func (r *PostgresRepository) Summary(ctx context.Context, warehouseID *int64) ([]inventorydomain.StockSummary, error) {
	query := r.db.WithContext(ctx).
		Table(inventorydomain.TableCones).
		Select(`thread_type_id, warehouse_id,
			COUNT(*) FILTER (WHERE status = ?) AS available_cones,
			COALESCE(SUM(quantity_meters) FILTER (WHERE status = ?), 0) AS available_meters,
			COALESCE(SUM(quantity_meters) FILTER (WHERE status IN ?), 0) AS allocated_meters,
			COUNT(*) FILTER (WHERE status = ? AND is_partial) AS partial_cones`,
			inventorydomain.ConeStatusAvailable,
			inventorydomain.ConeStatusAvailable,
			[]inventorydomain.ConeStatus{inventorydomain.ConeStatusSoftAllocated, inventorydomain.ConeStatusHardAllocated},
			inventorydomain.ConeStatusAvailable,
		)
	if warehouseID != nil {
		query = query.Where("warehouse_id = ?", *warehouseID)
	}

	var rows []inventorydomain.StockSummary
	if err := query.
		Group("thread_type_id, warehouse_id").
		Order("thread_type_id asc, warehouse_id asc").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
