package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/churnops/internal/warehouse"
)

// openWarehouse connects to the configured warehouse and applies pending
// migrations.
func openWarehouse(ctx context.Context) (warehouse.Warehouse, error) {
	wh, err := warehouse.Open(ctx, cfg.Warehouse)
	if err != nil {
		return nil, err
	}
	if err := wh.Migrate(ctx); err != nil {
		_ = wh.Close()
		return nil, eris.Wrap(err, "migrate warehouse")
	}
	return wh, nil
}
