package protocol

import (
	"fmt"
	"net/url"
)

// VLESS encodes the vless:// URI format.
type VLESS struct{}

func (VLESS) Name() string { return "vless" }

func (VLESS) Encode(f Facts) (string, error) {
	if f.ClientID == "" || f.Host == "" || f.Port <= 0 {
		return "", fmt.Errorf("vless: incomplete facts")
	}

	q := url.Values{}
	network := f.Network
	if network == "" {
		network = "tcp"
	}
	q.Set("type", network)
	q.Set("encryption", "none")

	security := f.Security
	if security == "" {
		security = "none"
	}
	q.Set("security", security)
	if f.SNI != "" {
		q.Set("sni", f.SNI)
	}
	if f.Path != "" {
		q.Set("path", f.Path)
	}

	return fmt.Sprintf("vless://%s@%s:%d?%s#%s",
		f.ClientID, f.Host, f.Port, q.Encode(), url.QueryEscape(f.Remark)), nil
}
