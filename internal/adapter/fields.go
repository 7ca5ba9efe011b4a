// Package adapter is the SDK Adapter: the only path from a raw broker
// payload (sdkport.RawEvent.Data) to a canonical domain value. Every
// invariant in spec.md §4.1 is enforced here; nothing downstream of
// this package ever reads an unvalidated field.
package adapter

import (
	"fmt"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/money"
)

// requireString returns raw[field] as a non-empty string, or a
// MappingError if the key is absent, empty, or not a string.
func requireString(raw map[string]any, field string) (string, error) {
	v, ok := raw[field]
	if !ok {
		return "", &domain.MappingError{Field: field}
	}
	s, ok := v.(string)
	if !ok {
		return "", &domain.MappingError{Field: field, Cause: fmt.Errorf("expected string, got %T", v)}
	}
	if s == "" {
		return "", &domain.MappingError{Field: field, Cause: fmt.Errorf("empty string")}
	}
	return s, nil
}

// optionalString returns raw[field] if present and a non-empty
// string, else "".
func optionalString(raw map[string]any, field string) string {
	v, ok := raw[field]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// requireInt returns raw[field] coerced to an int. Broker payloads
// decoded from JSON carry numbers as float64; this accepts both that
// and a literal int so tests can construct payloads either way.
func requireInt(raw map[string]any, field string) (int, error) {
	v, ok := raw[field]
	if !ok {
		return 0, &domain.MappingError{Field: field}
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, &domain.MappingError{Field: field, Cause: fmt.Errorf("expected number, got %T", v)}
	}
}

// requireMoney returns raw[field] parsed as exact decimal Money. It
// accepts a decimal string (the wire-preferred form) or a float64
// (some broker fields arrive as JSON numbers); a float64 is formatted
// through its string representation rather than used directly, since
// decimal.NewFromFloat would otherwise reintroduce binary-float error.
func requireMoney(raw map[string]any, field string) (money.Money, error) {
	v, ok := raw[field]
	if !ok {
		return money.Money{}, &domain.MappingError{Field: field}
	}
	switch n := v.(type) {
	case string:
		m, err := money.New(n)
		if err != nil {
			return money.Money{}, &domain.MappingError{Field: field, Cause: err}
		}
		return m, nil
	case float64:
		m, err := money.New(fmt.Sprintf("%g", n))
		if err != nil {
			return money.Money{}, &domain.MappingError{Field: field, Cause: err}
		}
		return m, nil
	default:
		return money.Money{}, &domain.MappingError{Field: field, Cause: fmt.Errorf("expected decimal string or number, got %T", v)}
	}
}

// optionalMoney is requireMoney but returns (nil, nil) when field is
// absent, rather than an error.
func optionalMoney(raw map[string]any, field string) (*money.Money, error) {
	if _, ok := raw[field]; !ok {
		return nil, nil
	}
	m, err := requireMoney(raw, field)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
