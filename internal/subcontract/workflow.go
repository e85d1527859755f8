package subcontract

import (
	"strings"

	"go.uber.org/zap"

	"shopline/internal/config"
	"shopline/internal/engine"
	"shopline/internal/repo"
)

var (
	_ engine.TxSubcontractWorkflow = Outbox{}
	_ engine.SubcontractWorkflow   = (*HTTPWorkflow)(nil)
)

// FromConfig picks the HTTP workflow when a URL is configured and the outbox otherwise.
func FromConfig(cfg *config.Config, r repo.Repo, logger *zap.Logger) engine.SubcontractWorkflow {
	if cfg != nil && strings.TrimSpace(cfg.Subcontract.URL) != "" {
		return NewHTTPWorkflow(cfg.Subcontract, cfg.Plant.ID, logger)
	}
	return NewOutbox(r)
}
