package protocol

import (
	"fmt"
	"net/url"
)

// Trojan encodes the trojan:// URI format. ClientID carries the password.
type Trojan struct{}

func (Trojan) Name() string { return "trojan" }

func (Trojan) Encode(f Facts) (string, error) {
	if f.ClientID == "" || f.Host == "" || f.Port <= 0 {
		return "", fmt.Errorf("trojan: incomplete facts")
	}

	q := url.Values{}
	security := f.Security
	if security == "" {
		security = "tls"
	}
	q.Set("security", security)
	if f.SNI != "" {
		q.Set("sni", f.SNI)
	}
	if f.Network != "" && f.Network != "tcp" {
		q.Set("type", f.Network)
	}

	return fmt.Sprintf("trojan://%s@%s:%d?%s#%s",
		url.QueryEscape(f.ClientID), f.Host, f.Port, q.Encode(), url.QueryEscape(f.Remark)), nil
}
