package model

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// AUC returns the area under the ROC curve of scores against labels,
// computed from the rank-sum statistic with average ranks for ties.
// A sample set without both classes has no AUC and yields an error.
func AUC(labels []bool, scores []float64) (float64, error) {
	if len(labels) != len(scores) {
		return 0, fmt.Errorf("%w: %d labels but %d scores", domain.ErrInvalidInput, len(labels), len(scores))
	}

	var positives, negatives int
	for i, l := range labels {
		if math.IsNaN(scores[i]) {
			return 0, fmt.Errorf("%w: score %d is NaN", domain.ErrInvalidInput, i)
		}
		if l {
			positives++
		} else {
			negatives++
		}
	}
	if positives == 0 {
		return 0, domain.ErrInsufficientPositiveSamples
	}
	if negatives == 0 {
		return 0, domain.ErrInsufficientNegativeSamples
	}

	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	var positiveRankSum float64
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && scores[idx[j+1]] == scores[idx[i]] {
			j++
		}
		// ranks are 1-based; tied scores share the mean rank
		rank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			if labels[idx[k]] {
				positiveRankSum += rank
			}
		}
		i = j + 1
	}

	p, n := float64(positives), float64(negatives)
	return (positiveRankSum - p*(p+1)/2) / (p * n), nil
}
