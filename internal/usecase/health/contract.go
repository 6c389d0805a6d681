package health

import "context"

// DBPinger checks store availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// APIChecker checks KG API availability.
type APIChecker interface {
	HealthCheck(ctx context.Context) error
}
