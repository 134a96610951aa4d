package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"panelsync/internal/pkg/httpclient"
)

// MarzbanClient implements Client for Marzban panels. Marzban keys clients
// by username, so the username doubles as the remote identifier.
type MarzbanClient struct {
	baseURL   string
	username  string
	password  string
	token     string
	tokenTime time.Time
	client    *httpclient.Client
}

// NewMarzbanClient creates a new Marzban panel client.
func NewMarzbanClient(baseURL, username, password string, timeout time.Duration) *MarzbanClient {
	return &MarzbanClient{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		username: strings.TrimSpace(username),
		password: password,
		client:   httpclient.New().WithTimeout(timeout).WithInsecureSkipVerify(),
	}
}

func (m *MarzbanClient) Type() string {
	return "marzban"
}

// authenticate obtains a bearer token from the panel.
func (m *MarzbanClient) authenticate(ctx context.Context) error {
	resp, err := m.client.PostForm(ctx, m.baseURL+"/api/admin/token", map[string]string{
		"username": m.username,
		"password": m.password,
	})
	if err != nil {
		return wrapTransport(err)
	}
	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		return ErrAuthFailed
	}
	if resp.StatusCode() >= 400 {
		return fmt.Errorf("%w: token endpoint status %d", ErrUnreachable, resp.StatusCode())
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil || result.AccessToken == "" {
		return fmt.Errorf("%w: no access_token in response", ErrAuthFailed)
	}

	m.token = result.AccessToken
	m.tokenTime = time.Now()
	m.client = m.client.WithBearerToken(result.AccessToken)
	return nil
}

// ensureAuth re-authenticates when the cached token is stale.
func (m *MarzbanClient) ensureAuth(ctx context.Context) error {
	if m.token == "" || time.Since(m.tokenTime) > 50*time.Minute {
		return m.authenticate(ctx)
	}
	return nil
}

func (m *MarzbanClient) Ping(ctx context.Context) error {
	return m.authenticate(ctx)
}

func (m *MarzbanClient) CreateClient(ctx context.Context, inboundID string, spec AccountSpec) (string, error) {
	if err := m.ensureAuth(ctx); err != nil {
		return "", err
	}

	expire := int64(0)
	if !spec.ExpiresAt.IsZero() {
		expire = spec.ExpiresAt.Unix()
	}

	payload := map[string]interface{}{
		"username":   spec.Username,
		"data_limit": spec.TrafficLimit,
		"expire":     expire,
		"status":     "active",
		"note":       spec.Note,
		"proxies": map[string]interface{}{
			spec.Protocol: map[string]interface{}{},
		},
	}
	if inboundID != "" {
		payload["inbounds"] = map[string][]string{spec.Protocol: {inboundID}}
	}

	resp, err := m.client.Post(ctx, m.baseURL+"/api/user", payload)
	if err != nil {
		return "", wrapTransport(err)
	}
	if resp.StatusCode() == 409 {
		// Marzban rejects duplicate usernames with 409.
		return "", Rejected("already exists: %s", spec.Username)
	}
	if cerr := classifyStatus(resp.StatusCode(), string(resp.Body())); cerr != nil {
		return "", cerr
	}

	var created struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(resp.Body(), &created); err != nil {
		return "", fmt.Errorf("marzban create parse failed: %w", err)
	}
	if created.Username == "" {
		created.Username = spec.Username
	}
	return created.Username, nil
}

func (m *MarzbanClient) FetchClientStats(ctx context.Context, remoteID string) (*ClientStats, error) {
	if err := m.ensureAuth(ctx); err != nil {
		return nil, err
	}

	resp, err := m.client.Get(ctx, m.baseURL+"/api/user/"+remoteID)
	if err != nil {
		return nil, wrapTransport(err)
	}
	if cerr := classifyStatus(resp.StatusCode(), string(resp.Body())); cerr != nil {
		return nil, cerr
	}

	var raw struct {
		Status      string  `json:"status"`
		UsedTraffic int64   `json:"used_traffic"`
		Expire      float64 `json:"expire"`
	}
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("marzban stats parse failed: %w", err)
	}

	stats := &ClientStats{
		TrafficUsed: raw.UsedTraffic,
		Enabled:     raw.Status == "active",
	}
	if raw.Expire > 0 {
		stats.ExpiresAt = time.Unix(int64(raw.Expire), 0)
	}
	return stats, nil
}

func (m *MarzbanClient) UpdateClient(ctx context.Context, remoteID string, patch ClientPatch) error {
	if err := m.ensureAuth(ctx); err != nil {
		return err
	}

	payload := map[string]interface{}{}
	if !patch.ExpiresAt.IsZero() {
		payload["expire"] = patch.ExpiresAt.Unix()
	}
	if patch.TrafficLimit > 0 {
		payload["data_limit"] = patch.TrafficLimit
	}
	if patch.Enabled != nil {
		if *patch.Enabled {
			payload["status"] = "active"
		} else {
			payload["status"] = "disabled"
		}
	}

	resp, err := m.client.Put(ctx, m.baseURL+"/api/user/"+remoteID, payload)
	if err != nil {
		return wrapTransport(err)
	}
	if cerr := classifyStatus(resp.StatusCode(), string(resp.Body())); cerr != nil {
		return cerr
	}

	if patch.ResetTraffic {
		resp, err = m.client.Post(ctx, m.baseURL+"/api/user/"+remoteID+"/reset", nil)
		if err != nil {
			return wrapTransport(err)
		}
		if cerr := classifyStatus(resp.StatusCode(), string(resp.Body())); cerr != nil {
			return cerr
		}
	}
	return nil
}

func (m *MarzbanClient) DeleteClient(ctx context.Context, remoteID string) error {
	if err := m.ensureAuth(ctx); err != nil {
		return err
	}

	resp, err := m.client.Delete(ctx, m.baseURL+"/api/user/"+remoteID)
	if err != nil {
		return wrapTransport(err)
	}
	return classifyStatus(resp.StatusCode(), string(resp.Body()))
}
