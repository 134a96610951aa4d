package protocol

import (
	"fmt"
	"strings"
	"sync"
)

// Facts are the (panel, inbound, client) inputs an encoder needs to build a
// connection profile. ClientID is the remote client identifier or credential
// the panel issued.
type Facts struct {
	Host     string
	Port     int
	ClientID string
	Remark   string
	Network  string // tcp, ws, grpc; defaults to tcp
	Security string // tls, reality, none
	SNI      string
	Path     string
}

// Encoder builds one protocol's connection profile from panel facts.
type Encoder interface {
	Name() string
	Encode(f Facts) (string, error)
}

// Registry maps protocol names to encoders. Registration happens once at
// process start; lookups are concurrency-safe reads.
type Registry struct {
	mu       sync.RWMutex
	encoders map[string]Encoder
}

func NewRegistry() *Registry {
	return &Registry{encoders: make(map[string]Encoder)}
}

// Register adds an encoder. Registering the same name twice panics: that is
// a wiring bug, not a runtime condition.
func (r *Registry) Register(e Encoder) {
	name := strings.ToLower(strings.TrimSpace(e.Name()))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.encoders[name]; dup {
		panic("protocol: duplicate encoder registration: " + name)
	}
	r.encoders[name] = e
}

// EncoderFor returns the encoder for the named protocol. An unknown name is
// a configuration error, never silently defaulted.
func (r *Registry) EncoderFor(name string) (Encoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.encoders[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("protocol: no encoder registered for %q", name)
	}
	return e, nil
}

// Names returns the registered protocol names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.encoders))
	for name := range r.encoders {
		out = append(out, name)
	}
	return out
}

// Default returns a registry with the built-in encoders registered.
func Default() *Registry {
	r := NewRegistry()
	r.Register(VMess{})
	r.Register(VLESS{})
	r.Register(Trojan{})
	return r
}
