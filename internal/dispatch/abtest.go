package dispatch

import (
	"hash/fnv"
	"math"

	"github.com/ignite/dispatch-engine/internal/domain"
	"github.com/ignite/dispatch-engine/internal/store"
)

// significanceZ is the two-sided 95% confidence threshold.
const significanceZ = 1.96

// assignVariant deterministically places a recipient in the A/B test. The
// same (campaign, recipient) pair always lands in the same bucket, so a
// re-dispatch reproduces the split. Returns the variant index for test-group
// members and -1 for the holdout that receives the winner later.
func assignVariant(c *domain.Campaign, recipientID string) int {
	ab := c.ABTest
	if !ab.Enabled || len(ab.Variants) == 0 {
		return -1
	}
	h := fnv.New32a()
	h.Write([]byte(c.ID))
	h.Write([]byte{0})
	h.Write([]byte(recipientID))
	bucket := h.Sum32() % 100
	if int(bucket) >= ab.SplitPercent {
		return -1
	}
	return int(h.Sum32()/100) % len(ab.Variants)
}

// variantRate extracts the criteria rate for one variant.
func variantRate(criteria domain.WinnerCriteria, s store.VariantStat) (successes, trials int) {
	trials = s.Delivered
	if criteria == domain.WinnerByClickRate {
		return s.UniqueClicks, trials
	}
	return s.UniqueOpens, trials
}

// pickWinner selects the winning variant from test-group stats using a
// two-proportion z-test between the top two variants. When the lead is not
// significant at 95% the leader still wins; significance only says how much
// the margin can be trusted.
func pickWinner(criteria domain.WinnerCriteria, stats []store.VariantStat) (winner int, significant bool) {
	if len(stats) == 0 {
		return 0, false
	}

	best, runnerUp := -1, -1
	bestRate, runnerUpRate := -1.0, -1.0
	for _, s := range stats {
		if s.VariantIndex < 0 {
			continue
		}
		successes, trials := variantRate(criteria, s)
		rate := 0.0
		if trials > 0 {
			rate = float64(successes) / float64(trials)
		}
		if rate > bestRate {
			runnerUp, runnerUpRate = best, bestRate
			best, bestRate = s.VariantIndex, rate
		} else if rate > runnerUpRate {
			runnerUp, runnerUpRate = s.VariantIndex, rate
		}
	}
	if best < 0 {
		return 0, false
	}
	if runnerUp < 0 {
		return best, false
	}

	var bs, bt, rs, rt int
	for _, s := range stats {
		switch s.VariantIndex {
		case best:
			bs, bt = variantRate(criteria, s)
		case runnerUp:
			rs, rt = variantRate(criteria, s)
		}
	}
	return best, twoProportionZ(bs, bt, rs, rt) > significanceZ
}

// twoProportionZ computes the z statistic for the difference between two
// proportions using the pooled standard error.
func twoProportionZ(s1, n1, s2, n2 int) float64 {
	if n1 == 0 || n2 == 0 {
		return 0
	}
	p1 := float64(s1) / float64(n1)
	p2 := float64(s2) / float64(n2)
	pooled := float64(s1+s2) / float64(n1+n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(n1) + 1/float64(n2)))
	if se == 0 {
		return 0
	}
	return math.Abs(p1-p2) / se
}
