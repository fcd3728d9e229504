package records

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"

	"vidpipe/internal/config"
)

// Open builds the store selected by cfg. app is required only for the firestore backend.
func Open(ctx context.Context, cfg *config.Config, app *firebase.App) (Store, error) {
	switch cfg.Records.Backend {
	case config.RecordsSQLite, "":
		return OpenSQLite(ctx, cfg.RecordsDSN())
	case config.RecordsPostgres:
		return OpenPostgres(ctx, cfg.RecordsDSN())
	case config.RecordsMongo:
		return OpenMongo(ctx, cfg.RecordsDSN(), cfg.Records.Database, cfg.Records.Collection)
	case config.RecordsFirestore:
		return OpenFirestore(ctx, app, cfg.Records.Collection)
	default:
		return nil, fmt.Errorf("records: unsupported backend %q", cfg.Records.Backend)
	}
}
