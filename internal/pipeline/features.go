package pipeline

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Features builds the model input for c. Explicit ModelFeatures win; the
// transaction amount and behavior features fill the gaps.
func Features(c *domain.RuleEvaluationContext) domain.FeatureVector {
	fv := make(domain.FeatureVector, len(c.ModelFeatures)+4)
	if c.Behavior != nil {
		for k, v := range c.Behavior.Features {
			fv[k] = v
		}
	}
	if c.Transaction != nil {
		fv["Amount"] = c.Transaction.Amount.InexactFloat64()
		fv["Hour"] = float64(c.Transaction.Timestamp.Hour())
	}
	if c.Account != nil {
		fv["AccountAgeDays"] = float64(c.Account.AgeDays)
	}
	for k, v := range c.ModelFeatures {
		fv[k] = v
	}
	return fv
}
