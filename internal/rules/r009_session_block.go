package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/kellandavies/riskd/internal/domain"
	"github.com/kellandavies/riskd/internal/engine"
)

// SessionBlock is R009: hard-lock any trading event observed outside
// the configured session window, releasing automatically once the
// session reopens.
type SessionBlock struct{}

func (SessionBlock) ID() string { return IDSessionBlock }

var tradingEventKinds = map[domain.EventType]bool{
	domain.EventOrderPlaced:     true,
	domain.EventOrderFilled:     true,
	domain.EventOrderCancelled: true,
	domain.EventPositionOpened:  true,
	domain.EventPositionUpdated: true,
	domain.EventPositionClosed:  true,
}

func (SessionBlock) Evaluate(event domain.RiskEvent, view engine.View) (*domain.Violation, error) {
	cfg := view.Config().Rules.SessionBlock
	if !cfg.Enabled || !tradingEventKinds[event.EventType] {
		return nil, nil
	}
	hours := view.Config().SessionHours
	loc, err := time.LoadLocation(hours.Timezone)
	if err != nil {
		return nil, fmt.Errorf("session_hours.timezone: %w", err)
	}
	now := view.Now.In(loc)
	if withinSession(now, hours.Start, hours.End, hours.AllowedDays) {
		return nil, nil
	}
	nextOpen, err := nextSessionOpen(now, hours.Start, hours.AllowedDays, loc)
	if err != nil {
		return nil, err
	}
	v := domain.Violation{
		RuleID:   IDSessionBlock,
		Severity: domain.SeverityCritical,
		Message:  fmt.Sprintf("event observed outside session hours (%s-%s %s)", hours.Start, hours.End, hours.Timezone),
		Action:   domain.ActionFlattenAndLockout,
		Payload: map[string]string{
			PayloadLockoutKind: "HARD",
			PayloadUnlockAt:    nextOpen.UTC().Format(time.RFC3339),
		},
	}
	return &v, nil
}

func withinSession(now time.Time, start, end string, allowedDays []string) bool {
	if !dayAllowed(now.Weekday(), allowedDays) {
		return false
	}
	startT, err1 := time.Parse("15:04", start)
	endT, err2 := time.Parse("15:04", end)
	if err1 != nil || err2 != nil {
		return false
	}
	minutesNow := now.Hour()*60 + now.Minute()
	minutesStart := startT.Hour()*60 + startT.Minute()
	minutesEnd := endT.Hour()*60 + endT.Minute()
	return minutesNow >= minutesStart && minutesNow < minutesEnd
}

func dayAllowed(day time.Weekday, allowedDays []string) bool {
	abbrev := strings.ToLower(day.String())[:3]
	for _, d := range allowedDays {
		if strings.ToLower(strings.TrimSpace(d)) == abbrev {
			return true
		}
	}
	return false
}

// nextSessionOpen walks forward day by day (at most 8 days, covering
// any allowed-days configuration) to find the next session start.
func nextSessionOpen(now time.Time, start string, allowedDays []string, loc *time.Location) (time.Time, error) {
	startT, err := time.Parse("15:04", start)
	if err != nil {
		return time.Time{}, fmt.Errorf("session_hours.start: %w", err)
	}
	candidate := time.Date(now.Year(), now.Month(), now.Day(), startT.Hour(), startT.Minute(), 0, 0, loc)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	for i := 0; i < 8; i++ {
		if dayAllowed(candidate.Weekday(), allowedDays) {
			return candidate, nil
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return time.Time{}, fmt.Errorf("session_hours.allowed_days: no allowed weekday found")
}
