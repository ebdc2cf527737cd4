package scoring

import (
	"fmt"
	"math"

	"github.com/yarinh5/cyber-threat-intel-dashboard/internal/entity"
)

// ReasonMixedSignals is reported when the verdict is not backed by most providers
const ReasonMixedSignals = "mixed signals"

// Policy holds the tunables of the verdict computation
type Policy struct {
	// MaliciousThreshold is the weighted score at or above which the verdict
	// is Malicious. Default: 50
	MaliciousThreshold float64

	// HighConfidenceWeight lets a single malicious flag force a Malicious
	// verdict when the flagging provider's weight is at least this value.
	// Zero disables the override.
	HighConfidenceWeight float64
}

// DefaultPolicy returns the default scoring policy
func DefaultPolicy() Policy {
	return Policy{
		MaliciousThreshold:   50,
		HighConfidenceWeight: 0,
	}
}

// Source describes one registered provider in registration order
type Source struct {
	Name   string
	Weight float64
}

// Evaluation is the verdict derived from one aggregation pass
type Evaluation struct {
	Verdict   entity.Verdict
	Score     *float64
	Providers map[string]entity.ProviderResult
	Failures  []entity.ProviderFailure
	Reasons   []string
}

// UnavailableReason formats the reason reported for failed providers
func UnavailableReason(n int) string {
	return fmt.Sprintf("%d provider(s) unavailable", n)
}

// Evaluate reconciles provider outcomes into a verdict. outcomes[i] belongs
// to sources[i]; the result does not depend on the order in which outcomes
// completed.
func Evaluate(sources []Source, outcomes []entity.Outcome, policy Policy) Evaluation {
	if len(sources) != len(outcomes) {
		panic(fmt.Sprintf("scoring: %d sources but %d outcomes", len(sources), len(outcomes)))
	}

	eval := Evaluation{
		Providers: make(map[string]entity.ProviderResult),
		Failures:  []entity.ProviderFailure{},
		Reasons:   []string{},
	}

	var (
		weightedSum  float64
		totalWeight  float64
		plainSum     float64
		flagged      []string
		cleanCount   int
		forcedByFlag bool
	)

	for i, outcome := range outcomes {
		src := sources[i]
		switch o := outcome.(type) {
		case entity.Success:
			res := o.Result
			res.Provider = src.Name
			res.Score = clamp(res.Score)
			score := res.Score
			eval.Providers[src.Name] = res
			weightedSum += score * src.Weight
			totalWeight += src.Weight
			plainSum += score
			if res.IsMalicious {
				flagged = append(flagged, src.Name)
				if policy.HighConfidenceWeight > 0 && src.Weight >= policy.HighConfidenceWeight {
					forcedByFlag = true
				}
			} else {
				cleanCount++
			}
		case entity.Failure:
			eval.Failures = append(eval.Failures, o.Failure)
		default:
			panic(fmt.Sprintf("scoring: unexpected outcome %T", outcome))
		}
	}

	succeeded := len(eval.Providers)
	if succeeded == 0 {
		eval.Verdict = entity.VerdictUnknown
	} else {
		// All-zero weights degrade to an unweighted mean
		score := plainSum / float64(succeeded)
		if totalWeight > 0 {
			score = weightedSum / totalWeight
		}
		// The threshold applies to the exact score, not the rounded one
		rounded := math.Round(score*100) / 100
		eval.Score = &rounded

		if score >= policy.MaliciousThreshold || forcedByFlag {
			eval.Verdict = entity.VerdictMalicious
		} else {
			eval.Verdict = entity.VerdictClean
		}
	}

	seen := make(map[string]bool)
	addReason := func(r string) {
		if !seen[r] {
			seen[r] = true
			eval.Reasons = append(eval.Reasons, r)
		}
	}
	for _, name := range flagged {
		addReason(name)
	}
	if mixedSignals(len(flagged), cleanCount, eval.Verdict) {
		addReason(ReasonMixedSignals)
	}
	if n := len(eval.Failures); n > 0 {
		addReason(UnavailableReason(n))
	}

	return eval
}

// mixedSignals reports a split vote that is either tied or overruled by the verdict
func mixedSignals(flagged, clean int, verdict entity.Verdict) bool {
	if flagged == 0 || clean == 0 {
		return false
	}
	switch {
	case flagged == clean:
		return true
	case flagged > clean:
		return verdict != entity.VerdictMalicious
	default:
		return verdict == entity.VerdictMalicious
	}
}

func clamp(score float64) float64 {
	switch {
	case math.IsNaN(score), score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}
