package operation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Parameters is the ordered, immutable set of named arguments for one
// invocation. Values stay raw JSON until a typed accessor asks for them.
type Parameters struct {
	names  []string
	values map[string]json.RawMessage
}

// ParseParameters decodes a JSON object, keeping member order. A duplicate
// member keeps its first position and its last value. Empty input and
// `null` yield empty Parameters.
func ParseParameters(raw json.RawMessage) (Parameters, error) {
	p := Parameters{values: make(map[string]json.RawMessage)}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return Parameters{}, fmt.Errorf("%w: arguments: %v", ErrInvalidArgument, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return Parameters{}, fmt.Errorf("%w: arguments must be a JSON object", ErrInvalidArgument)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Parameters{}, fmt.Errorf("%w: arguments: %v", ErrInvalidArgument, err)
		}
		name, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return Parameters{}, fmt.Errorf("%w: argument %q: %v", ErrInvalidArgument, name, err)
		}
		if _, seen := p.values[name]; !seen {
			p.names = append(p.names, name)
		}
		p.values[name] = value
	}
	if _, err := dec.Token(); err != nil {
		return Parameters{}, fmt.Errorf("%w: arguments: %v", ErrInvalidArgument, err)
	}
	return p, nil
}

// NewParameters builds Parameters from already-decoded values, in the order
// given by names. Names without a value are skipped.
func NewParameters(names []string, values map[string]any) (Parameters, error) {
	p := Parameters{values: make(map[string]json.RawMessage, len(values))}
	for _, name := range names {
		v, ok := values[name]
		if !ok {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return Parameters{}, fmt.Errorf("%w: argument %q: %v", ErrInvalidArgument, name, err)
		}
		if _, seen := p.values[name]; !seen {
			p.names = append(p.names, name)
		}
		p.values[name] = raw
	}
	return p, nil
}

// Names returns parameter names in their original order.
func (p Parameters) Names() []string {
	return append([]string(nil), p.names...)
}

// Len is the number of parameters.
func (p Parameters) Len() int { return len(p.names) }

// Has reports whether name is present (a JSON null counts as present).
func (p Parameters) Has(name string) bool {
	_, ok := p.values[name]
	return ok
}

// Raw returns the undecoded value of name.
func (p Parameters) Raw(name string) (json.RawMessage, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Without returns a copy of p lacking the given names. Used to strip the
// routing arguments (operation, path, session) before handlers see them.
func (p Parameters) Without(names ...string) Parameters {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	out := Parameters{values: make(map[string]json.RawMessage, len(p.values))}
	for _, n := range p.names {
		if _, ok := drop[n]; ok {
			continue
		}
		out.names = append(out.names, n)
		out.values[n] = p.values[n]
	}
	return out
}

// Required decodes name into T, failing when it is absent or null.
func Required[T any](p Parameters, name string) (T, error) {
	var out T
	raw, ok := p.values[name]
	if !ok || isNull(raw) {
		return out, fmt.Errorf("%w %q", ErrMissingParameter, name)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: parameter %q: %v", ErrInvalidArgument, name, err)
	}
	return out, nil
}

// Optional decodes name into T, returning def when it is absent or null.
func Optional[T any](p Parameters, name string, def T) (T, error) {
	raw, ok := p.values[name]
	if !ok || isNull(raw) {
		return def, nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return def, fmt.Errorf("%w: parameter %q: %v", ErrInvalidArgument, name, err)
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
