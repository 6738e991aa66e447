package risk

import (
	"cmp"
	"slices"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// FactorCount is how often one factor code was raised.
type FactorCount struct {
	Code  string                `json:"code"`
	Type  domain.RiskFactorType `json:"type"`
	Count int                   `json:"count"`
}

// Profile summarises the evaluation history of one account.
type Profile struct {
	AccountID        string                        `json:"accountId"`
	Since            time.Time                     `json:"since"`
	TransactionCount int                           `json:"transactionCount"`
	HighRiskCount    int                           `json:"highRiskCount"`
	AverageRiskScore float64                       `json:"averageRiskScore"`
	Decisions        map[domain.DecisionType]int   `json:"decisions"`
	CommonFactors    []FactorCount                 `json:"commonFactors"`
	FactorTrend      map[domain.RiskFactorType]int `json:"factorTrend"`
	LastEvaluatedAt  *time.Time                    `json:"lastEvaluatedAt,omitempty"`
}

// BuildProfile aggregates results and factors of accountID observed since
// the given time. CommonFactors is ordered by count, then code.
func BuildProfile(accountID string, since time.Time, results []*domain.AnalysisResult, factors []domain.RiskFactor) *Profile {
	p := &Profile{
		AccountID:     accountID,
		Since:         since,
		Decisions:     map[domain.DecisionType]int{},
		CommonFactors: []FactorCount{},
		FactorTrend:   map[domain.RiskFactorType]int{},
	}

	var total float64
	for _, r := range results {
		if r.AnalyzedAt.Before(since) {
			continue
		}
		p.TransactionCount++
		total += r.RiskScore
		p.Decisions[r.Decision]++
		if r.RiskLevel == domain.RiskHigh || r.RiskLevel == domain.RiskCritical {
			p.HighRiskCount++
		}
		if p.LastEvaluatedAt == nil || r.AnalyzedAt.After(*p.LastEvaluatedAt) {
			at := r.AnalyzedAt
			p.LastEvaluatedAt = &at
		}
	}
	if p.TransactionCount > 0 {
		p.AverageRiskScore = total / float64(p.TransactionCount)
	}

	byCode := map[string]*FactorCount{}
	for _, f := range factors {
		if f.DetectedAt.Before(since) {
			continue
		}
		p.FactorTrend[f.Type]++
		fc, ok := byCode[f.Code]
		if !ok {
			fc = &FactorCount{Code: f.Code, Type: f.Type}
			byCode[f.Code] = fc
		}
		fc.Count++
	}
	for _, fc := range byCode {
		p.CommonFactors = append(p.CommonFactors, *fc)
	}
	slices.SortFunc(p.CommonFactors, func(a, b FactorCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Code, b.Code)
	})
	return p
}
