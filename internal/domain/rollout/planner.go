package rollout

import (
	"fmt"
	"math"
)

// PlanGroupSizes splits total targets across groups. Each percentage applies
// to the targets not taken by earlier groups; the last group takes whatever
// remains so the sizes always add up to total.
func PlanGroupSizes(total int64, percents []float64) ([]int64, error) {
	if len(percents) == 0 {
		return nil, ErrNoGroups
	}
	if total < 0 {
		return nil, fmt.Errorf("total targets cannot be negative: %d", total)
	}
	sizes := make([]int64, len(percents))
	remaining := total
	for i, pct := range percents {
		if pct <= 0 || pct > 100 {
			return nil, fmt.Errorf("%w: group %d has %.2f", ErrInvalidGroupPercentage, i, pct)
		}
		if i == len(percents)-1 {
			sizes[i] = remaining
			break
		}
		n := int64(math.Round(float64(remaining) * pct / 100))
		if n > remaining {
			n = remaining
		}
		sizes[i] = n
		remaining -= n
	}
	return sizes, nil
}

// EqualPercentages returns percentages that split targets evenly over n groups.
func EqualPercentages(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 / float64(n-i)
	}
	return out
}
