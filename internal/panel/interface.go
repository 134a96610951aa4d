package panel

import (
	"context"
	"time"
)

// AccountSpec contains params for creating a client on a panel.
type AccountSpec struct {
	Username     string    `json:"username"`
	Protocol     string    `json:"protocol"`
	TrafficLimit int64     `json:"traffic_limit"` // bytes, 0 = unlimited
	ExpiresAt    time.Time `json:"expires_at"`
	Note         string    `json:"note,omitempty"`
}

// ClientStats is the panel-reported truth for one remote client.
type ClientStats struct {
	TrafficUsed int64     `json:"traffic_used"`
	ExpiresAt   time.Time `json:"expires_at"` // zero when the panel reports none
	Enabled     bool      `json:"enabled"`
}

// ClientPatch mutates an existing remote client. Zero-valued fields are
// left untouched; Enabled uses a pointer so "disable" is expressible.
type ClientPatch struct {
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	TrafficLimit int64     `json:"traffic_limit,omitempty"`
	Enabled      *bool     `json:"enabled,omitempty"`
	ResetTraffic bool      `json:"reset_traffic,omitempty"`
}

// Client is the capability surface every vendor adapter implements.
// All errors fall in the taxonomy of errors.go. CreateClient returns the
// remote client identifier; it is the only value callers may use for
// subsequent per-client calls.
type Client interface {
	// CreateClient creates the client and returns its remote identifier.
	CreateClient(ctx context.Context, inboundID string, spec AccountSpec) (string, error)

	// FetchClientStats returns reported traffic, expiry and enabled state.
	FetchClientStats(ctx context.Context, remoteID string) (*ClientStats, error)

	// UpdateClient applies the patch; used for renewal and suspension.
	UpdateClient(ctx context.Context, remoteID string, patch ClientPatch) error

	// DeleteClient removes the client. ErrClientNotFound is benign.
	DeleteClient(ctx context.Context, remoteID string) error

	// Ping verifies the panel is reachable and the credential works.
	Ping(ctx context.Context) error

	// Type returns the vendor identifier.
	Type() string
}
