package domain

import (
	"bytes"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Pair is one label/value entry scraped from a page.
type Pair struct {
	Key   string
	Value string
}

// Pairs is an insertion-ordered string map. Setting an existing key
// replaces its value in place. It encodes as a JSON object in key order;
// the zero value is an empty map.
type Pairs struct {
	m *orderedmap.OrderedMap[string, string]
}

// NewPairs returns a map holding entries in order.
func NewPairs(entries ...Pair) Pairs {
	p := Pairs{m: orderedmap.New[string, string](len(entries))}
	for _, e := range entries {
		p.m.Set(e.Key, e.Value)
	}
	return p
}

// Set inserts or replaces key.
func (p *Pairs) Set(key, value string) {
	if p.m == nil {
		p.m = orderedmap.New[string, string]()
	}
	p.m.Set(key, value)
}

// Has reports whether key is present.
func (p Pairs) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// Get returns the value stored under key.
func (p Pairs) Get(key string) (string, bool) {
	if p.m == nil {
		return "", false
	}
	return p.m.Get(key)
}

func (p Pairs) Len() int {
	if p.m == nil {
		return 0
	}
	return p.m.Len()
}

// Keys returns the keys in insertion order.
func (p Pairs) Keys() []string {
	keys := make([]string, 0, p.Len())
	for _, e := range p.Entries() {
		keys = append(keys, e.Key)
	}
	return keys
}

// Entries returns a copy of the entries in insertion order.
func (p Pairs) Entries() []Pair {
	out := make([]Pair, 0, p.Len())
	if p.m == nil {
		return out
	}
	for kv := p.m.Oldest(); kv != nil; kv = kv.Next() {
		out = append(out, Pair{Key: kv.Key, Value: kv.Value})
	}
	return out
}

// MarshalJSON encodes the pairs as an object, keeping their order.
func (p Pairs) MarshalJSON() ([]byte, error) {
	if p.m == nil {
		return []byte("{}"), nil
	}
	return p.m.MarshalJSON()
}

// UnmarshalJSON decodes an object of strings, keeping document order.
// null decodes to an empty map.
func (p *Pairs) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = Pairs{}
		return nil
	}
	if len(data) == 0 || data[0] != '{' {
		return fmt.Errorf("pairs: expected object, got %.20q", data)
	}
	m := orderedmap.New[string, string]()
	if err := m.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("pairs: %w", err)
	}
	*p = Pairs{m: m}
	return nil
}
