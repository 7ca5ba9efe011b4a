package rules_test

import (
	"context"
	"testing"
	"time"

	"github.com/kellandavies/riskd/internal/config"
	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/engine"
	"github.com/kellandavies/riskd/internal/money"
	"github.com/kellandavies/riskd/internal/rules"
	"github.com/stretchr/testify/require"
)

func baseConfig() *config.Config {
	return &config.Config{
		SessionHours: config.SessionHoursConfig{
			Start: "08:00", End: "16:00", Timezone: "UTC",
			AllowedDays: []string{"mon", "tue", "wed", "thu", "fri"},
		},
	}
}

func mnqPosition(quantity int, entry, unrealized string) domain.Position {
	return domain.Position{
		ContractID:    "CON.F.US.MNQ.Z25",
		SymbolRoot:    "MNQ",
		Side:          domain.Long,
		Quantity:      quantity,
		EntryPrice:    money.MustNew(entry),
		UnrealizedPnL: money.MustNew(unrealized),
	}
}

func TestMaxContractsFiresOnceOverLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules.MaxContracts = config.RuleMaxContracts{RuleBase: config.RuleBase{Enabled: true}, MaxTotal: 5}

	view := engine.NewView(engine.ViewParams{
		Cfg:       cfg,
		Positions: []domain.Position{mnqPosition(6, "21000.00", "0")},
	})
	event := domain.RiskEvent{EventType: domain.EventPositionOpened, Position: &domain.Position{ContractID: "CON.F.US.MNQ.Z25"}}

	v, err := rules.MaxContracts{}.Evaluate(event, view)
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, domain.ActionClosePosition, v.Action)
}

func TestMaxContractsHoldsAtLimit(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules.MaxContracts = config.RuleMaxContracts{RuleBase: config.RuleBase{Enabled: true}, MaxTotal: 5}

	view := engine.NewView(engine.ViewParams{
		Cfg:       cfg,
		Positions: []domain.Position{mnqPosition(5, "21000.00", "0")},
	})
	event := domain.RiskEvent{EventType: domain.EventPositionOpened, Position: &domain.Position{ContractID: "CON.F.US.MNQ.Z25"}}

	v, err := rules.MaxContracts{}.Evaluate(event, view)
	require.NoError(t, err)
	require.Nil(t, v)
}

// TestDailyUnrealizedLossCompositeEnforcement reproduces spec scenario
// S2: R003 limit -900, R004 limit -200, composite on, realized -800
// (budget -100); unrealized -100 crosses the tightened effective
// threshold even though it's nowhere near the configured -200.
func TestDailyUnrealizedLossCompositeEnforcement(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules.DailyRealizedLoss = config.RuleDailyRealizedLoss{RuleBase: config.RuleBase{Enabled: true}, Limit: "-900"}
	cfg.Rules.DailyUnrealizedLoss = config.RuleDailyUnrealizedLoss{
		RuleBase: config.RuleBase{Enabled: true},
		Limit:    "-200",
		CompositeEnforcement: config.CompositeEnforcementConfig{
			Enabled: true, RespectRealizedLimit: true,
		},
	}
	rule := rules.DailyUnrealizedLoss{}

	position := mnqPosition(1, "21000.00", "-70")
	view := engine.NewView(engine.ViewParams{
		Cfg:              cfg,
		Positions:        []domain.Position{position},
		RealizedPnLToday: money.MustNew("-800"),
	})
	event := domain.RiskEvent{EventType: domain.EventUnrealizedPnLUpdate}

	v, err := rule.Evaluate(event, view)
	require.NoError(t, err)
	require.Nil(t, v, "-70 has not yet crossed the -100 effective threshold")

	position.UnrealizedPnL = money.MustNew("-100")
	view = engine.NewView(engine.ViewParams{
		Cfg:              cfg,
		Positions:        []domain.Position{position},
		RealizedPnLToday: money.MustNew("-800"),
	})
	v, err = rule.Evaluate(event, view)
	require.NoError(t, err)
	require.NotNil(t, v, "-100 crosses the tightened -100 effective threshold")
	require.Equal(t, "-200", v.Payload["configured_threshold"])
	require.Equal(t, "-100", v.Payload["effective_threshold"])
}

func TestCooldownAfterLossPicksDeepestMatchingTier(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules.CooldownAfterLoss = config.RuleCooldownAfterLoss{
		RuleBase: config.RuleBase{Enabled: true},
		Tiers: []config.LossCooldownTier{
			{LossAtOrBelow: "-50", Cooldown: 5 * time.Minute},
			{LossAtOrBelow: "-150", Cooldown: 15 * time.Minute},
			{LossAtOrBelow: "-300", Cooldown: 60 * time.Minute},
		},
	}
	view := engine.NewView(engine.ViewParams{Cfg: cfg})
	loss := money.MustNew("-310")
	event := domain.RiskEvent{EventType: domain.EventPositionClosed, RealizedPnL: &loss}

	v, err := rules.CooldownAfterLoss{}.Evaluate(event, view)
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, "3600", v.Payload["duration_seconds"])
	require.Equal(t, domain.ActionAlertAndLockout, v.Action, "R007 arms a cooldown only, it must not flatten other positions")
}

func TestCooldownAfterLossHoldsWhenProfitable(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules.CooldownAfterLoss = config.RuleCooldownAfterLoss{
		RuleBase: config.RuleBase{Enabled: true},
		Tiers:    []config.LossCooldownTier{{LossAtOrBelow: "-50", Cooldown: time.Minute}},
	}
	view := engine.NewView(engine.ViewParams{Cfg: cfg})
	profit := money.MustNew("40")
	event := domain.RiskEvent{EventType: domain.EventPositionClosed, RealizedPnL: &profit}

	v, err := rules.CooldownAfterLoss{}.Evaluate(event, view)
	require.NoError(t, err)
	require.Nil(t, v)
}

type fakeTimers struct {
	started map[string]func()
	canceled map[string]bool
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{started: map[string]func(){}, canceled: map[string]bool{}}
}
func (f *fakeTimers) Start(name string, _ time.Duration, cb func()) { f.started[name] = cb }
func (f *fakeTimers) Cancel(name string)                            { f.canceled[name] = true; delete(f.started, name) }

type fakeEnforcer struct{ applied []domain.Violation }

func (f *fakeEnforcer) Apply(_ context.Context, _ string, v domain.Violation) error {
	f.applied = append(f.applied, v)
	return nil
}

type fakeAudit struct{ rows []domain.ViolationAudit }

func (f *fakeAudit) AppendViolation(_ context.Context, v domain.ViolationAudit) error {
	f.rows = append(f.rows, v)
	return nil
}

func TestNoStopLossGraceFiresOnExpiryWithoutStopOrder(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules.NoStopLossGrace = config.RuleNoStopLossGrace{RuleBase: config.RuleBase{Enabled: true}, GraceSeconds: 30}
	timers := newFakeTimers()
	enforcer := &fakeEnforcer{}
	audit := &fakeAudit{}
	rule := rules.NewNoStopLossGrace(timers, enforcer, audit)

	view := engine.NewView(engine.ViewParams{Cfg: cfg})
	event := domain.RiskEvent{
		EventType: domain.EventPositionOpened,
		AccountID: "ACC-1",
		Position:  &domain.Position{ContractID: "CON.F.US.MNQ.Z25"},
	}
	_, err := rule.Evaluate(event, view)
	require.NoError(t, err)
	require.Len(t, timers.started, 1)

	for _, cb := range timers.started {
		cb()
	}
	require.Len(t, enforcer.applied, 1)
	require.Equal(t, domain.ActionClosePosition, enforcer.applied[0].Action)
	require.Len(t, audit.rows, 1)
}

func TestNoStopLossGraceCanceledByStopOrder(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules.NoStopLossGrace = config.RuleNoStopLossGrace{RuleBase: config.RuleBase{Enabled: true}, GraceSeconds: 30}
	timers := newFakeTimers()
	rule := rules.NewNoStopLossGrace(timers, &fakeEnforcer{}, &fakeAudit{})
	view := engine.NewView(engine.ViewParams{Cfg: cfg})

	_, err := rule.Evaluate(domain.RiskEvent{
		EventType: domain.EventPositionOpened, AccountID: "ACC-1",
		Position: &domain.Position{ContractID: "CON.F.US.MNQ.Z25"},
	}, view)
	require.NoError(t, err)

	_, err = rule.Evaluate(domain.RiskEvent{
		EventType: domain.EventOrderPlaced, AccountID: "ACC-1",
		Order: &domain.Order{ContractID: "CON.F.US.MNQ.Z25", Type: domain.OrderTypeStop},
	}, view)
	require.NoError(t, err)
	require.Empty(t, timers.started, "stop-order observation must cancel the grace timer")
}

func TestSessionBlockOutsideWindow(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules.SessionBlock = config.RuleSessionBlock{RuleBase: config.RuleBase{Enabled: true}}

	// Saturday: never an allowed day regardless of time-of-day.
	saturday := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	view := engine.NewView(engine.ViewParams{Cfg: cfg, Now: saturday})
	event := domain.RiskEvent{EventType: domain.EventOrderFilled, Timestamp: saturday}

	v, err := rules.SessionBlock{}.Evaluate(event, view)
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, "HARD", v.Payload["lockout_kind"])
	require.NotEmpty(t, v.Payload["unlock_at"])
}

func TestSessionBlockInsideWindow(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules.SessionBlock = config.RuleSessionBlock{RuleBase: config.RuleBase{Enabled: true}}

	monday := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	view := engine.NewView(engine.ViewParams{Cfg: cfg, Now: monday})
	event := domain.RiskEvent{EventType: domain.EventOrderFilled, Timestamp: monday}

	v, err := rules.SessionBlock{}.Evaluate(event, view)
	require.NoError(t, err)
	require.Nil(t, v)
}

type fakeAuthLockouts struct{ cleared []string }

func (f *fakeAuthLockouts) ClearHard(_ context.Context, account string) error {
	f.cleared = append(f.cleared, account)
	return nil
}

func TestAuthLossGuardLocksOnCannotTradeAndClearsOnReconnect(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules.AuthLossGuard = config.RuleAuthLossGuard{RuleBase: config.RuleBase{Enabled: true}}
	lockouts := &fakeAuthLockouts{}
	rule := rules.NewAuthLossGuard(lockouts)
	view := engine.NewView(engine.ViewParams{Cfg: cfg})

	v, err := rule.Evaluate(domain.RiskEvent{
		EventType: domain.EventAuthFailed, AccountID: "ACC-1",
		RawData: map[string]any{"canTrade": false},
	}, view)
	require.NoError(t, err)
	require.NotNil(t, v)
	require.Equal(t, domain.ActionAlertAndLockout, v.Action)

	v, err = rule.Evaluate(domain.RiskEvent{
		EventType: domain.EventSDKConnected, AccountID: "ACC-1",
		RawData: map[string]any{"canTrade": true},
	}, view)
	require.NoError(t, err)
	require.Nil(t, v)
	require.Equal(t, []string{"ACC-1"}, lockouts.cleared)
}

func TestSymbolBlocksWildcard(t *testing.T) {
	cfg := baseConfig()
	cfg.Rules.SymbolBlocks = config.RuleSymbolBlocks{RuleBase: config.RuleBase{Enabled: true}, Patterns: []string{"CL*"}}
	view := engine.NewView(engine.ViewParams{Cfg: cfg})

	event := domain.RiskEvent{
		EventType: domain.EventPositionOpened,
		Position:  &domain.Position{ContractID: "CON.F.US.CLE.Z25", SymbolRoot: "CLE"},
	}
	v, err := rules.SymbolBlocks{}.Evaluate(event, view)
	require.NoError(t, err)
	require.NotNil(t, v)
}
