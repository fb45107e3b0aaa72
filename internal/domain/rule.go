package domain

// RuleConfig is an operator-defined CEL boost rule evaluated over the
// raw features of a transaction.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression; must evaluate to a bool or a number.
	// Numbers >= 1 count as triggered.
	Expression string `json:"expression"`

	// Reason is reported when the rule triggers.
	Reason string `json:"reason"`

	// Multiplier joins the averaged boost set when triggered.
	Multiplier float64 `json:"multiplier"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleHit is a triggered custom rule.
type RuleHit struct {
	RuleID     string  `json:"ruleId"`
	Reason     string  `json:"reason"`
	Multiplier float64 `json:"multiplier"`
	ProcessMs  int64   `json:"processMs"`
}
