package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// VMess encodes the base64-JSON profile format v2 clients import.
type VMess struct{}

func (VMess) Name() string { return "vmess" }

func (VMess) Encode(f Facts) (string, error) {
	if f.ClientID == "" || f.Host == "" || f.Port <= 0 {
		return "", fmt.Errorf("vmess: incomplete facts")
	}

	network := f.Network
	if network == "" {
		network = "tcp"
	}
	tls := ""
	if f.Security == "tls" {
		tls = "tls"
	}

	blob := map[string]string{
		"v":    "2",
		"ps":   f.Remark,
		"add":  f.Host,
		"port": strconv.Itoa(f.Port),
		"id":   f.ClientID,
		"aid":  "0",
		"net":  network,
		"type": "none",
		"host": f.SNI,
		"path": f.Path,
		"tls":  tls,
	}
	raw, err := json.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("vmess: marshal profile: %w", err)
	}
	return "vmess://" + base64.StdEncoding.EncodeToString(raw), nil
}
