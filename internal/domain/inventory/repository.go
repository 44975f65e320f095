package inventory

import "context"

type Repository interface {
	Transaction(ctx context.Context, fn func(Repository) error) error
	GetThreadType(ctx context.Context, id int64) (*ThreadType, error)
	ListThreadTypes(ctx context.Context) ([]ThreadType, error)
	CreateCones(ctx context.Context, cones []Cone) error
	GetConeByBarcode(ctx context.Context, coneID string) (*Cone, error)
	ListConesByBarcodes(ctx context.Context, coneIDs []string) ([]Cone, error)
	ListCones(ctx context.Context, filter ConeFilter) ([]Cone, error)
	UpdateCone(ctx context.Context, cone *Cone) error
	CreateRecovery(ctx context.Context, recovery *Recovery) error
	Summary(ctx context.Context, warehouseID *int64) ([]StockSummary, error)
}
