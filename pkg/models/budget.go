package models

// BudgetPeriod defines the time window for a budget policy.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetMonthly BudgetPeriod = "monthly"
)

// BudgetPolicy defines max tokens per app key per period.
// AppKey "*" matches every key.
type BudgetPolicy struct {
	AppKey    string       `json:"app_key" yaml:"app_key"`
	Operation Operation    `json:"api_operation,omitempty" yaml:"api_operation,omitempty"`
	MaxTokens int64        `json:"max_tokens" yaml:"max_tokens"`
	Period    BudgetPeriod `json:"period" yaml:"period"`
}

// BudgetStatus shows current usage against a policy.
type BudgetStatus struct {
	Policy    BudgetPolicy `json:"policy"`
	Used      int64        `json:"used"`
	Remaining int64        `json:"remaining"`
}

// Exceeded reports whether usage has reached the policy limit.
func (s BudgetStatus) Exceeded() bool {
	return s.Used >= s.Policy.MaxTokens
}
