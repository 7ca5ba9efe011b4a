package rules

import (
	"fmt"
	"strings"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/engine"
)

// SymbolBlocks is R011: close any position or placed order on a
// blocked symbol root. Patterns are case-insensitive and support one
// trailing "*" wildcard (e.g. "CL*" blocks CL, CLE, ...).
type SymbolBlocks struct{}

func (SymbolBlocks) ID() string { return IDSymbolBlocks }

func (SymbolBlocks) Evaluate(event domain.RiskEvent, view engine.View) (*domain.Violation, error) {
	cfg := view.Config().Rules.SymbolBlocks
	if !cfg.Enabled {
		return nil, nil
	}

	var root, contractID string
	switch event.EventType {
	case domain.EventPositionOpened, domain.EventPositionUpdated:
		if event.Position == nil {
			return nil, nil
		}
		root, contractID = string(event.Position.SymbolRoot), event.Position.ContractID
	case domain.EventOrderPlaced:
		if event.Order == nil {
			return nil, nil
		}
		root, contractID = rootFromContractID(event.Order.ContractID), event.Order.ContractID
	default:
		return nil, nil
	}

	if !symbolBlocked(root, cfg.Patterns) {
		return nil, nil
	}
	return &domain.Violation{
		RuleID:   IDSymbolBlocks,
		Severity: domain.SeverityWarning,
		Message:  fmt.Sprintf("symbol %s matches a blocked pattern", root),
		Action:   domain.ActionClosePosition,
		Payload:  map[string]string{PayloadContractID: contractID},
	}, nil
}

func symbolBlocked(root string, patterns []string) bool {
	root = strings.ToUpper(root)
	for _, p := range patterns {
		p = strings.ToUpper(strings.TrimSpace(p))
		if strings.HasSuffix(p, "*") {
			if strings.HasPrefix(root, strings.TrimSuffix(p, "*")) {
				return true
			}
			continue
		}
		if root == p {
			return true
		}
	}
	return false
}

// rootFromContractID does a registry-free best-effort root extraction
// for ORDER_PLACED events, which carry only a contract id (the Order
// wire schema has no symbol_root field). It mirrors
// ticktable.NormalizeSymbol's prefix/suffix stripping but skips alias
// resolution, since symbol_blocks patterns are written against the
// same raw roots the broker reports, not the alias-resolved target.
func rootFromContractID(contractID string) string {
	s := contractID
	for _, prefix := range []string{"CON.F.US.", "F.US."} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}
	if idx := strings.LastIndex(s, "."); idx >= 0 {
		s = s[:idx]
	}
	return strings.ToUpper(s)
}
