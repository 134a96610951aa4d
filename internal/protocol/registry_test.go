package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func validFacts() Facts {
	return Facts{
		Host:     "vpn.example.com",
		Port:     443,
		ClientID: "3b2c1a0f-1111-2222-3333-444455556666",
		Remark:   "plan-1",
		Security: "tls",
		SNI:      "vpn.example.com",
	}
}

func TestRegistryLookup(t *testing.T) {
	r := Default()

	tests := []struct {
		name    string
		lookup  string
		wantErr bool
	}{
		{"vmess", "vmess", false},
		{"vless", "vless", false},
		{"trojan", "trojan", false},
		{"case insensitive", "VLESS", false},
		{"whitespace trimmed", "  trojan ", false},
		{"unknown never defaults", "shadowsocks", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.EncoderFor(tt.lookup)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncoderFor(%q) err = %v, wantErr %v", tt.lookup, err, tt.wantErr)
			}
		})
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r := NewRegistry()
	r.Register(VMess{})
	r.Register(VMess{})
}

func TestVMessEncode(t *testing.T) {
	uri, err := VMess{}.Encode(validFacts())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.HasPrefix(uri, "vmess://") {
		t.Fatalf("uri = %q, want vmess:// prefix", uri)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "vmess://"))
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	var blob map[string]string
	if err := json.Unmarshal(raw, &blob); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if blob["add"] != "vpn.example.com" || blob["port"] != "443" {
		t.Errorf("endpoint = %s:%s, want vpn.example.com:443", blob["add"], blob["port"])
	}
	if blob["id"] != validFacts().ClientID {
		t.Errorf("id = %q, want client id", blob["id"])
	}
	if blob["tls"] != "tls" {
		t.Errorf("tls = %q, want tls", blob["tls"])
	}
	if blob["net"] != "tcp" {
		t.Errorf("net = %q, want tcp default", blob["net"])
	}
}

func TestVLESSEncode(t *testing.T) {
	uri, err := VLESS{}.Encode(validFacts())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.HasPrefix(uri, "vless://"+validFacts().ClientID+"@vpn.example.com:443?") {
		t.Fatalf("uri = %q", uri)
	}
	if !strings.Contains(uri, "security=tls") || !strings.Contains(uri, "sni=vpn.example.com") {
		t.Errorf("uri missing tls params: %q", uri)
	}
	if !strings.HasSuffix(uri, "#plan-1") {
		t.Errorf("uri missing remark fragment: %q", uri)
	}
}

func TestTrojanEncode(t *testing.T) {
	uri, err := Trojan{}.Encode(validFacts())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.HasPrefix(uri, "trojan://") || !strings.Contains(uri, "@vpn.example.com:443?") {
		t.Fatalf("uri = %q", uri)
	}
	if !strings.Contains(uri, "security=tls") {
		t.Errorf("uri missing security param: %q", uri)
	}
}

func TestEncodeRejectsIncompleteFacts(t *testing.T) {
	encoders := []Encoder{VMess{}, VLESS{}, Trojan{}}
	broken := []Facts{
		{},
		{Host: "h", Port: 443},                // no client id
		{ClientID: "id", Port: 443},           // no host
		{ClientID: "id", Host: "h", Port: -1}, // bad port
	}
	for _, e := range encoders {
		for i, f := range broken {
			if _, err := e.Encode(f); err == nil {
				t.Errorf("%s.Encode(case %d) succeeded, want error", e.Name(), i)
			}
		}
	}
}
