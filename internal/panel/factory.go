package panel

import (
	"fmt"
	"time"

	"panelsync/internal/models"
)

// Factory builds a Client for a panel record. Injected into the
// orchestrator and the reconciliation engine so tests can substitute fakes.
type Factory func(p *models.Panel, timeout time.Duration) (Client, error)

// New creates a Client based on the panel type.
func New(p *models.Panel, timeout time.Duration) (Client, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	switch p.Type {
	case "marzban":
		return NewMarzbanClient(p.BaseURL, p.Username, p.Password, timeout), nil
	case "x-ui", "xui":
		return NewXUIClient(p.BaseURL, p.Username, p.Password, p.InboundID, timeout), nil
	case "alireza":
		return NewAlirezaClient(p.BaseURL, p.Username, p.Password, p.InboundID, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported panel type: %s", p.Type)
	}
}
