package rules

import (
	"fmt"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/engine"
)

// MaxContracts is R001: account-wide contract count ceiling.
type MaxContracts struct{}

func (MaxContracts) ID() string { return IDMaxContracts }

func (MaxContracts) Evaluate(event domain.RiskEvent, view engine.View) (*domain.Violation, error) {
	cfg := view.Config().Rules.MaxContracts
	if !cfg.Enabled {
		return nil, nil
	}
	if event.EventType != domain.EventPositionOpened && event.EventType != domain.EventPositionUpdated {
		return nil, nil
	}
	if event.Position == nil {
		return nil, nil
	}
	total := view.TotalQuantity()
	if total <= cfg.MaxTotal {
		return nil, nil
	}
	return &domain.Violation{
		RuleID:   IDMaxContracts,
		Severity: domain.SeverityCritical,
		Message:  fmt.Sprintf("account-wide contract count %d exceeds max_total %d", total, cfg.MaxTotal),
		Action:   domain.ActionClosePosition,
		Payload:  map[string]string{PayloadContractID: event.Position.ContractID},
	}, nil
}
