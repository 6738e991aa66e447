package domain

// RuleEvaluationResult is the outcome of one rule against one context.
type RuleEvaluationResult struct {
	RuleID     string       `json:"ruleId"`
	RuleCode   string       `json:"ruleCode"`
	RuleName   string       `json:"ruleName"`
	Category   RuleCategory `json:"category"`
	Priority   int          `json:"priority"`
	Triggered  bool         `json:"triggered"`
	Confidence float64      `json:"confidence"`
	Score      float64      `json:"score"`
	Actions    []RuleAction `json:"actions,omitempty"`
	TestMode   bool         `json:"testMode,omitempty"`
	Reason     string       `json:"reason,omitempty"`
}

// TriggeredRuleInfo summarises a triggered rule on an AnalysisResult.
type TriggeredRuleInfo struct {
	RuleID      string       `json:"ruleId"`
	RuleCode    string       `json:"ruleCode"`
	RuleName    string       `json:"ruleName"`
	Category    RuleCategory `json:"category"`
	ImpactLevel ImpactLevel  `json:"impactLevel"`
	Confidence  float64      `json:"confidence"`
	Score       float64      `json:"score"`
	Actions     []RuleAction `json:"actions,omitempty"`
	TestMode    bool         `json:"testMode,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

// RuleEngineOutcome aggregates all rule verdicts for one context.
type RuleEngineOutcome struct {
	TotalRuleCount int                    `json:"totalRuleCount"`
	Results        []RuleEvaluationResult `json:"results"`
	TriggeredRules []TriggeredRuleInfo    `json:"triggeredRules"`
	AppliedActions []RuleAction           `json:"appliedActions"`
	HardStop       bool                   `json:"hardStop"`
	Events         []*FraudRuleEvent      `json:"events,omitempty"`
}

// MaxTriggeredScore returns the highest score among triggered rules.
func (o *RuleEngineOutcome) MaxTriggeredScore() float64 {
	if o == nil {
		return 0
	}
	best := 0.0
	for _, t := range o.TriggeredRules {
		if t.Score > best {
			best = t.Score
		}
	}
	return best
}

// HasAppliedAction reports whether any of the given actions was applied.
func (o *RuleEngineOutcome) HasAppliedAction(actions ...RuleAction) bool {
	if o == nil {
		return false
	}
	for _, have := range o.AppliedActions {
		for _, want := range actions {
			if have == want {
				return true
			}
		}
	}
	return false
}
