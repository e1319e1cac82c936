package wsproxy

import (
	"net/url"
	"strings"
)

// RecognizedKeys are the handshake query parameters the realtime protocol
// defines and that a fault is allowed to inspect or rewrite. Anything else
// on the wire is out of scope for this proxy's connection model.
var RecognizedKeys = []string{
	"clientId", "connectionSerial", "resume", "key", "heartbeats", "v", "format", "agent",
}

func isRecognized(key string) bool {
	for _, k := range RecognizedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// ConnectionParams is an ordered, nullable projection of the handshake
// query string over RecognizedKeys: a key either holds a value or is
// absent, and the relative order keys first appeared in is preserved so a
// rewritten set still reads naturally as a query string.
type ConnectionParams struct {
	order  []string
	values map[string]string
}

// NewConnectionParams returns an empty projection.
func NewConnectionParams() *ConnectionParams {
	return &ConnectionParams{values: make(map[string]string)}
}

// FromRequestParameters parses a raw handshake query string, keeping only
// the recognized keys, in the order they first appeared.
func FromRequestParameters(rawQuery string) *ConnectionParams {
	p := NewConnectionParams()
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		key, err1 := url.QueryUnescape(key)
		value, err2 := url.QueryUnescape(value)
		if err1 != nil || err2 != nil || !isRecognized(key) {
			continue
		}
		p.Set(key, value)
	}
	return p
}

// Get returns the value for key and whether it is present.
func (p *ConnectionParams) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Set assigns key=value, recognized keys only, appending to the order on
// first appearance.
func (p *ConnectionParams) Set(key, value string) {
	if !isRecognized(key) {
		return
	}
	if _, exists := p.values[key]; !exists {
		p.order = append(p.order, key)
	}
	p.values[key] = value
}

// Delete removes key entirely, so it round-trips as absent.
func (p *ConnectionParams) Delete(key string) {
	if _, exists := p.values[key]; !exists {
		return
	}
	delete(p.values, key)
	for i, k := range p.order {
		if k == key {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Keys returns the present keys in their original relative order.
func (p *ConnectionParams) Keys() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Clone returns an independent copy.
func (p *ConnectionParams) Clone() *ConnectionParams {
	c := NewConnectionParams()
	c.order = append([]string{}, p.order...)
	for k, v := range p.values {
		c.values[k] = v
	}
	return c
}

// Encode rebuilds the query string in original key order.
func (p *ConnectionParams) Encode() string {
	var b strings.Builder
	for i, key := range p.order {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.values[key]))
	}
	return b.String()
}
