// Package ticktable implements the Tick-Economics Registry: a static,
// config-validated table mapping a futures symbol root to its tick
// size and tick value, plus alias resolution and contract-id
// normalization.
package ticktable

import (
	"sort"
	"strings"

	"github.com/kellandavies/riskd/internal/domain"
)

// knownPrefixes are stripped from a raw contract id before the root is
// extracted, longest first so "CON.F.US." is tried before "F.US.".
var knownPrefixes = []string{"CON.F.US.", "F.US."}

// Registry is an immutable, alias-resolving tick-economics table.
// Registries are built once at startup from configuration and never
// mutated afterward, so reads require no locking.
type Registry struct {
	economics map[domain.SymbolRoot]domain.TickEconomics
	aliases   map[string]domain.SymbolRoot
}

// Entry is one row of configured tick economics, keyed by canonical
// root (the alias target, not an alias itself).
type Entry struct {
	Root      domain.SymbolRoot
	TickSize  string
	TickValue string
}

// New builds a Registry from configured entries and an alias table
// (alias string -> canonical root string). It validates that every
// tick size and tick value is present and non-zero, per spec.md §4.1:
// get_tick_economics must never return a default.
func New(entries []Entry, aliases map[string]string) (*Registry, error) {
	r := &Registry{
		economics: make(map[domain.SymbolRoot]domain.TickEconomics, len(entries)),
		aliases:   make(map[string]domain.SymbolRoot, len(aliases)),
	}
	for _, e := range entries {
		size, err := parseMoney(e.TickSize)
		if err != nil {
			return nil, &domain.ConfigError{Detail: "tick_values." + string(e.Root) + ".size: " + err.Error()}
		}
		value, err := parseMoney(e.TickValue)
		if err != nil {
			return nil, &domain.ConfigError{Detail: "tick_values." + string(e.Root) + ".value: " + err.Error()}
		}
		if size.IsZero() {
			return nil, &domain.ConfigError{Detail: "tick_values." + string(e.Root) + ".size must be non-zero"}
		}
		if value.IsZero() {
			return nil, &domain.ConfigError{Detail: "tick_values." + string(e.Root) + ".value must be non-zero"}
		}
		r.economics[e.Root] = domain.TickEconomics{TickSize: size, TickValue: value}
	}
	for alias, target := range aliases {
		root := domain.SymbolRoot(strings.ToUpper(target))
		if _, ok := r.economics[root]; !ok {
			return nil, &domain.ConfigError{Detail: "alias " + alias + " points at unknown root " + string(root)}
		}
		r.aliases[strings.ToUpper(alias)] = root
	}
	return r, nil
}

// NormalizeSymbol strips known contract-id prefixes and an expiry
// suffix and uppercases the rest. It does not resolve aliases (Resolve
// and Lookup do). An empty result is a domain.MappingError; a root with
// no tick economics is not checked here and is reported by Lookup as a
// domain.UnitsError.
func NormalizeSymbol(raw string) (domain.SymbolRoot, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", &domain.MappingError{Field: "symbol", Cause: errEmptySymbol}
	}
	for _, prefix := range knownPrefixes {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}
	// Strip a trailing ".<EXPIRY>" suffix, e.g. ".Z25".
	if idx := strings.LastIndex(s, "."); idx >= 0 {
		s = s[:idx]
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", &domain.MappingError{Field: "symbol", Cause: errEmptySymbol}
	}
	return domain.SymbolRoot(s), nil
}

// Resolve applies the alias table to a normalized root, returning the
// canonical root used for tick-economics lookups.
func (r *Registry) Resolve(root domain.SymbolRoot) domain.SymbolRoot {
	if canonical, ok := r.aliases[string(root)]; ok {
		return canonical
	}
	return root
}

// Lookup returns the tick economics for a raw contract id, resolving
// prefixes, suffixes, and aliases. It never returns a default value:
// an unknown root is a domain.UnitsError listing every known root.
func (r *Registry) Lookup(rawSymbol string) (domain.SymbolRoot, domain.TickEconomics, error) {
	root, err := NormalizeSymbol(rawSymbol)
	if err != nil {
		return "", domain.TickEconomics{}, err
	}
	canonical := r.Resolve(root)
	econ, ok := r.economics[canonical]
	if !ok {
		return "", domain.TickEconomics{}, &domain.UnitsError{Symbol: string(root), KnownRoot: r.KnownRoots()}
	}
	return canonical, econ, nil
}

// TickSizeForRoot returns the tick size for an already-canonical root,
// for callers (e.g. trade-management rules) that only have a
// domain.SymbolRoot on hand rather than a raw contract id.
func (r *Registry) TickSizeForRoot(root domain.SymbolRoot) (domain.TickEconomics, bool) {
	econ, ok := r.economics[root]
	return econ, ok
}

// KnownRoots returns every canonical root this registry knows about,
// sorted for deterministic error messages.
func (r *Registry) KnownRoots() []string {
	out := make([]string, 0, len(r.economics))
	for root := range r.economics {
		out = append(out, string(root))
	}
	sort.Strings(out)
	return out
}

var errEmptySymbol = emptySymbolError{}

type emptySymbolError struct{}

func (emptySymbolError) Error() string { return "symbol is empty after normalization" }
