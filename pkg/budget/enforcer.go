package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/chargeback/pkg/models"
	"github.com/pario-ai/chargeback/pkg/tracker"
)

// ErrBudgetExceeded is returned when an app key has used up its budget.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Enforcer checks recorded token usage against budget policies.
type Enforcer struct {
	policies []models.BudgetPolicy
	tracker  tracker.Tracker
	now      func() time.Time
}

// New creates an Enforcer with the given policies and tracker.
func New(policies []models.BudgetPolicy, t tracker.Tracker) *Enforcer {
	return &Enforcer{policies: policies, tracker: t, now: time.Now}
}

// Check returns ErrBudgetExceeded if the app key has exhausted any applicable
// policy. An empty op checks every policy of the key.
func (e *Enforcer) Check(ctx context.Context, appKey string, op models.Operation) error {
	for _, p := range e.applicablePolicies(appKey, op) {
		used, err := e.used(ctx, appKey, p)
		if err != nil {
			return fmt.Errorf("budget check: %w", err)
		}
		if used >= p.MaxTokens {
			return fmt.Errorf("%w: %s used %d of %d %s tokens", ErrBudgetExceeded, appKey, used, p.MaxTokens, p.Period)
		}
	}
	return nil
}

// Status returns the budget status for an app key across all applicable policies.
func (e *Enforcer) Status(ctx context.Context, appKey string) ([]models.BudgetStatus, error) {
	policies := e.policiesForKey(appKey)
	statuses := make([]models.BudgetStatus, 0, len(policies))

	for _, p := range policies {
		used, err := e.used(ctx, appKey, p)
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		remaining := p.MaxTokens - used
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, models.BudgetStatus{
			Policy:    p,
			Used:      used,
			Remaining: remaining,
		})
	}
	return statuses, nil
}

// Exceeded returns the statuses of every app key in the batch whose budget is used up.
func (e *Enforcer) Exceeded(ctx context.Context, recs []models.UsageRecord) ([]models.BudgetStatus, error) {
	seen := make(map[string]bool)
	var over []models.BudgetStatus
	for _, rec := range recs {
		if seen[rec.AppKey] {
			continue
		}
		seen[rec.AppKey] = true
		statuses, err := e.Status(ctx, rec.AppKey)
		if err != nil {
			return nil, err
		}
		for _, s := range statuses {
			if s.Exceeded() {
				s.Policy.AppKey = rec.AppKey
				over = append(over, s)
			}
		}
	}
	return over, nil
}

func (e *Enforcer) used(ctx context.Context, appKey string, p models.BudgetPolicy) (int64, error) {
	since := periodStart(e.now(), p.Period)
	if p.Operation != "" {
		return e.tracker.TotalByKeyAndOperation(ctx, appKey, p.Operation, since)
	}
	return e.tracker.TotalByKey(ctx, appKey, since)
}

// policiesForKey returns all policies matching an app key (ignoring operation filter).
func (e *Enforcer) policiesForKey(appKey string) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policies {
		if p.AppKey == "*" || p.AppKey == appKey {
			result = append(result, p)
		}
	}
	return result
}

func (e *Enforcer) applicablePolicies(appKey string, op models.Operation) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policiesForKey(appKey) {
		if p.Operation == "" || op == "" || p.Operation == op {
			result = append(result, p)
		}
	}
	return result
}

func periodStart(now time.Time, period models.BudgetPeriod) time.Time {
	now = now.UTC()
	switch period {
	case models.BudgetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
