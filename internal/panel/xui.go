package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"panelsync/internal/pkg/httpclient"
)

// xuiClient implements Client for 3x-ui style panels. These panels key
// clients by email inside an inbound's settings blob; the email is the
// remote identifier. The alireza fork serves the same API under a
// different path prefix.
type xuiClient struct {
	baseURL        string
	username       string
	password       string
	apiBase        string
	defaultInbound int
	panelType      string
	client         *httpclient.Client
}

func NewXUIClient(baseURL, username, password, inboundID string, timeout time.Duration) Client {
	return newXUIClient(baseURL, username, password, "/panel/api/inbounds", inboundID, timeout, "x-ui")
}

func NewAlirezaClient(baseURL, username, password, inboundID string, timeout time.Duration) Client {
	return newXUIClient(baseURL, username, password, "/xui/API/inbounds", inboundID, timeout, "alireza")
}

func newXUIClient(baseURL, username, password, apiBase, inboundID string, timeout time.Duration, panelType string) Client {
	id, _ := strconv.Atoi(strings.TrimSpace(inboundID))
	if id <= 0 {
		id = 1
	}
	return &xuiClient{
		baseURL:        strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		username:       strings.TrimSpace(username),
		password:       password,
		apiBase:        apiBase,
		defaultInbound: id,
		panelType:      panelType,
		client:         httpclient.New().WithTimeout(timeout).WithInsecureSkipVerify().WithHeader("Accept", "application/json"),
	}
}

func (x *xuiClient) Type() string {
	return x.panelType
}

// apiEnvelope is the {success, msg, obj} wrapper every x-ui endpoint uses.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

func (x *xuiClient) login(ctx context.Context) error {
	resp, err := x.client.PostForm(ctx, x.baseURL+"/login", map[string]string{
		"username": x.username,
		"password": x.password,
	})
	if err != nil {
		return wrapTransport(err)
	}
	if resp.StatusCode() >= 500 {
		return fmt.Errorf("%w: login status %d", ErrUnreachable, resp.StatusCode())
	}
	var env apiEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("%w: unexpected login response", ErrAuthFailed)
	}
	if !env.Success {
		return ErrAuthFailed
	}
	return nil
}

func (x *xuiClient) Ping(ctx context.Context) error {
	return x.login(ctx)
}

func (x *xuiClient) CreateClient(ctx context.Context, inboundID string, spec AccountSpec) (string, error) {
	if err := x.login(ctx); err != nil {
		return "", err
	}

	inbound := x.defaultInbound
	if id, err := strconv.Atoi(strings.TrimSpace(inboundID)); err == nil && id > 0 {
		inbound = id
	}

	expiry := int64(0)
	if !spec.ExpiresAt.IsZero() {
		expiry = spec.ExpiresAt.UnixMilli()
	}

	settings := map[string]interface{}{
		"clients": []map[string]interface{}{
			{
				"id":         uuid.NewString(),
				"flow":       "",
				"email":      spec.Username,
				"totalGB":    spec.TrafficLimit,
				"expiryTime": expiry,
				"enable":     true,
				"subId":      uuid.NewString()[:16],
				"reset":      0,
				"comment":    spec.Note,
			},
		},
	}
	settingsJSON, _ := json.Marshal(settings)
	payload := map[string]interface{}{
		"id":       inbound,
		"settings": string(settingsJSON),
	}

	resp, err := x.client.Post(ctx, x.baseURL+x.apiBase+"/addClient", payload)
	if err != nil {
		return "", wrapTransport(err)
	}
	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		return "", ErrAuthFailed
	}
	var env apiEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return "", fmt.Errorf("xui create parse failed: %w", err)
	}
	if !env.Success {
		if strings.Contains(strings.ToLower(env.Msg), "duplicate") {
			return "", Rejected("already exists: %s", spec.Username)
		}
		return "", Rejected("%s", env.Msg)
	}
	return spec.Username, nil
}

func (x *xuiClient) FetchClientStats(ctx context.Context, remoteID string) (*ClientStats, error) {
	if err := x.login(ctx); err != nil {
		return nil, err
	}
	row, err := x.fetchClientRow(ctx, remoteID)
	if err != nil {
		return nil, err
	}

	stats := &ClientStats{
		TrafficUsed: toInt64(row["up"]) + toInt64(row["down"]),
		Enabled:     boolFromAny(row["enable"], true),
	}
	if ms := toInt64(row["expiryTime"]); ms > 0 {
		stats.ExpiresAt = time.UnixMilli(ms)
	}
	return stats, nil
}

func (x *xuiClient) UpdateClient(ctx context.Context, remoteID string, patch ClientPatch) error {
	if err := x.login(ctx); err != nil {
		return err
	}
	row, err := x.fetchClientRow(ctx, remoteID)
	if err != nil {
		return err
	}

	inbound := int(toInt64(row["inboundId"]))
	if inbound <= 0 {
		inbound = x.defaultInbound
	}
	clientID := strings.TrimSpace(fmt.Sprintf("%v", row["id"]))
	if clientID == "" || clientID == "<nil>" {
		return fmt.Errorf("%w: %s has no client id", ErrClientNotFound, remoteID)
	}

	enable := boolFromAny(row["enable"], true)
	if patch.Enabled != nil {
		enable = *patch.Enabled
	}
	total := toInt64(row["total"])
	if patch.TrafficLimit > 0 {
		total = patch.TrafficLimit
	}
	expiry := toInt64(row["expiryTime"])
	if !patch.ExpiresAt.IsZero() {
		expiry = patch.ExpiresAt.UnixMilli()
	}

	settings := map[string]interface{}{
		"clients": []map[string]interface{}{
			{
				"id":         clientID,
				"flow":       row["flow"],
				"email":      remoteID,
				"totalGB":    total,
				"expiryTime": expiry,
				"enable":     enable,
				"subId":      row["subId"],
			},
		},
	}
	settingsJSON, _ := json.Marshal(settings)
	payload := map[string]interface{}{
		"id":       inbound,
		"settings": string(settingsJSON),
	}

	resp, err := x.client.Post(ctx, x.baseURL+x.apiBase+"/updateClient/"+clientID, payload)
	if err != nil {
		return wrapTransport(err)
	}
	var env apiEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("xui update parse failed: %w", err)
	}
	if !env.Success {
		return Rejected("%s", env.Msg)
	}

	if patch.ResetTraffic {
		path := fmt.Sprintf("%s%s/%d/resetClientTraffic/%s", x.baseURL, x.apiBase, inbound, remoteID)
		if _, err := x.client.Post(ctx, path, nil); err != nil {
			return wrapTransport(err)
		}
	}
	return nil
}

func (x *xuiClient) DeleteClient(ctx context.Context, remoteID string) error {
	if err := x.login(ctx); err != nil {
		return err
	}
	row, err := x.fetchClientRow(ctx, remoteID)
	if err != nil {
		return err
	}
	inbound := int(toInt64(row["inboundId"]))
	if inbound <= 0 {
		inbound = x.defaultInbound
	}

	path := fmt.Sprintf("%s%s/%d/delClientByEmail/%s", x.baseURL, x.apiBase, inbound, remoteID)
	resp, err := x.client.Post(ctx, path, nil)
	if err != nil {
		return wrapTransport(err)
	}
	var env apiEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("xui delete parse failed: %w", err)
	}
	if !env.Success {
		return Rejected("%s", env.Msg)
	}
	return nil
}

// fetchClientRow returns the client's traffic row merged with identity
// fields from the inbound settings blob. Tries the direct traffic endpoint
// first, then scans the inbound list for panels that lack it.
func (x *xuiClient) fetchClientRow(ctx context.Context, email string) (map[string]interface{}, error) {
	resp, err := x.client.Get(ctx, x.baseURL+x.apiBase+"/getClientTraffics/"+email)
	if err == nil {
		var env apiEnvelope
		if uErr := json.Unmarshal(resp.Body(), &env); uErr == nil && env.Success {
			var obj map[string]interface{}
			if uErr := json.Unmarshal(env.Obj, &obj); uErr == nil && len(obj) > 0 {
				if full, fErr := x.mergeIdentity(ctx, email, obj); fErr == nil {
					return full, nil
				}
				return obj, nil
			}
		}
	}

	return x.scanInbounds(ctx, email)
}

// mergeIdentity enriches a traffic row with the client uuid and subId from
// the inbound settings.
func (x *xuiClient) mergeIdentity(ctx context.Context, email string, row map[string]interface{}) (map[string]interface{}, error) {
	full, err := x.scanInbounds(ctx, email)
	if err != nil {
		return nil, err
	}
	for k, v := range row {
		full[k] = v
	}
	return full, nil
}

func (x *xuiClient) scanInbounds(ctx context.Context, email string) (map[string]interface{}, error) {
	resp, err := x.client.Get(ctx, x.baseURL+x.apiBase)
	if err != nil {
		return nil, wrapTransport(err)
	}
	var env apiEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("%w: inbound list parse failed", ErrUnreachable)
	}
	var items []map[string]interface{}
	if err := json.Unmarshal(env.Obj, &items); err != nil {
		return nil, fmt.Errorf("%w: inbound list parse failed", ErrUnreachable)
	}

	for _, inbound := range items {
		settingsStr := strings.TrimSpace(fmt.Sprintf("%v", inbound["settings"]))
		var settings map[string]interface{}
		_ = json.Unmarshal([]byte(settingsStr), &settings)
		clients, _ := settings["clients"].([]interface{})

		var clientItem map[string]interface{}
		for _, c := range clients {
			cm, ok := c.(map[string]interface{})
			if !ok {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(fmt.Sprintf("%v", cm["email"])), email) {
				clientItem = cm
				break
			}
		}
		if len(clientItem) == 0 {
			continue
		}

		row := map[string]interface{}{
			"inboundId":  inbound["id"],
			"id":         clientItem["id"],
			"email":      clientItem["email"],
			"flow":       clientItem["flow"],
			"subId":      clientItem["subId"],
			"total":      clientItem["totalGB"],
			"expiryTime": clientItem["expiryTime"],
			"enable":     clientItem["enable"],
		}

		stats, _ := inbound["clientStats"].([]interface{})
		for _, st := range stats {
			sm, ok := st.(map[string]interface{})
			if !ok {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(fmt.Sprintf("%v", sm["email"])), email) {
				row["up"] = sm["up"]
				row["down"] = sm["down"]
				break
			}
		}
		return row, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrClientNotFound, email)
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case json.Number:
		n, _ := t.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n
	}
	return 0
}

func boolFromAny(v interface{}, defaultVal bool) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultVal
}
