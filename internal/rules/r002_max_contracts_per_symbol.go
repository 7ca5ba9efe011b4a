package rules

import (
	"fmt"
	"strings"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/engine"
)

// MaxContractsPerSymbol is R002: per-instrument contract count ceiling.
//
// The Enforcement Executor's operation set has no direct "resize an
// open position" command (spec.md §4.9 lists only close/close_all/
// cancel/modify_order), so a configured action of "reduce_to_limit"
// is treated identically to "close": the offending position is closed
// outright rather than partially resized.
type MaxContractsPerSymbol struct{}

func (MaxContractsPerSymbol) ID() string { return IDMaxContractsPerSymbol }

func (MaxContractsPerSymbol) Evaluate(event domain.RiskEvent, view engine.View) (*domain.Violation, error) {
	cfg := view.Config().Rules.MaxContractsPerSymbol
	if !cfg.Enabled {
		return nil, nil
	}
	if event.EventType != domain.EventPositionOpened && event.EventType != domain.EventPositionUpdated {
		return nil, nil
	}
	if event.Position == nil {
		return nil, nil
	}
	root := string(event.Position.SymbolRoot)
	limit := cfg.Default
	for symbol, l := range cfg.Limits {
		if strings.EqualFold(symbol, root) {
			limit = l
			break
		}
	}
	if limit <= 0 {
		return nil, nil
	}
	total := 0
	for _, p := range view.PositionsForSymbol(event.Position.SymbolRoot) {
		total += p.Quantity
	}
	if total <= limit {
		return nil, nil
	}
	return &domain.Violation{
		RuleID:   IDMaxContractsPerSymbol,
		Severity: domain.SeverityCritical,
		Message:  fmt.Sprintf("%s contract count %d exceeds per-symbol limit %d", root, total, limit),
		Action:   domain.ActionClosePosition,
		Payload:  map[string]string{PayloadContractID: event.Position.ContractID},
	}, nil
}
