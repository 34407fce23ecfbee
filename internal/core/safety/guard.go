package safety

import (
	"math"
	"sort"
	"strings"

	"github.com/lawgraph/counsel/internal/core/domain"
)

// Refusal texts returned in place of an answer when a guard phase blocks.
const (
	RefusalPreflight = "I can't help with that."
	RefusalContent   = "I can't provide that information due to safety concerns."
)

// Risk score weights for preflight telemetry.
const (
	riskPerFilteredChunk = 0.2
	riskPerRedaction     = 0.05
	riskPIIPresent       = 0.1
)

// Policy tunes guard behavior. The zero value disables everything;
// use DefaultPolicy.
type Policy struct {
	MaskAnswerPII         bool
	FilterInjectedChunks  bool
	BlockProhibitedIntent bool
	// ConfidenceCapFiltered caps payload confidence when preflight
	// removed context passages.
	ConfidenceCapFiltered float64
	// MinConfidence/MaxConfidence clamp confidence after a content
	// penalty is applied.
	MinConfidence float64
	MaxConfidence float64
}

// DefaultPolicy returns the standard policy.
func DefaultPolicy() Policy {
	return Policy{
		MaskAnswerPII:         true,
		FilterInjectedChunks:  true,
		BlockProhibitedIntent: true,
		ConfidenceCapFiltered: 0.6,
		MinConfidence:         0.2,
		MaxConfidence:         0.6,
	}
}

// Guard is the two-phase safety gate. Stateless per call and safe for
// concurrent use.
type Guard struct {
	rules  *RuleSet
	policy Policy
}

// NewGuard builds a guard from compiled rules and a policy.
func NewGuard(rules *RuleSet, policy Policy) *Guard {
	return &Guard{rules: rules, policy: policy}
}

// Preflight inspects the question and the retrieved context before
// generation. It returns whether the request must be refused outright,
// telemetry for the final payload, and a sanitized copy of the context
// map with injected passages removed and injected lines redacted.
func (g *Guard) Preflight(question string, contexts map[string]string) (bool, domain.SafetyInfo, map[string]string) {
	info := domain.SafetyInfo{}

	if g.policy.BlockProhibitedIntent && matchAny(g.rules.prohibitedIntent, question) {
		info.Blocked = true
		info.Level = domain.SafetyLevelBlocked
		info.Reason = "Prohibited intent detected"
		info.Flags = []string{"prohibited_intent"}
		info.RiskScore = 1.0
		return true, info, map[string]string{}
	}

	sanitized := make(map[string]string, len(contexts))
	for id, body := range contexts {
		sanitized[id] = body
	}

	if g.policy.FilterInjectedChunks {
		var filtered []string
		for id, body := range sanitized {
			if matchAny(g.rules.injection, body) {
				filtered = append(filtered, id)
			}
		}
		if len(filtered) > 0 {
			sort.Strings(filtered)
			info.Flags = append(info.Flags, "context_injection")
			info.FilteredChunkIDs = filtered
			for _, id := range filtered {
				delete(sanitized, id)
			}
		}
	}

	for id, body := range sanitized {
		clean, n := g.redactInjectionLines(body)
		if n > 0 {
			info.Redactions += n
			sanitized[id] = clean
		}
	}

	piiHits := 0
	for _, body := range sanitized {
		piiHits += countMatches(g.rules.pii, body) + countMatches(g.rules.secrets, body)
	}
	if piiHits > 0 {
		info.Flags = append(info.Flags, "pii_suspected_in_context")
	}

	risk := riskPerFilteredChunk*float64(len(info.FilteredChunkIDs)) + riskPerRedaction*float64(info.Redactions)
	if piiHits > 0 {
		risk += riskPIIPresent
	}
	info.RiskScore = math.Min(1.0, risk)
	return false, info, sanitized
}

// redactInjectionLines drops individual lines matching an injection
// pattern, keeping the rest of the passage.
func (g *Guard) redactInjectionLines(body string) (string, int) {
	if body == "" {
		return body, 0
	}
	lines := strings.Split(body, "\n")
	kept := lines[:0]
	redactions := 0
	for _, ln := range lines {
		if matchAny(g.rules.injection, ln) {
			redactions++
			continue
		}
		kept = append(kept, ln)
	}
	if redactions == 0 {
		return body, 0
	}
	return strings.Join(kept, "\n"), redactions
}

// Postflight masks PII and secrets in generated text, then classifies
// it with the content rules. Blocking violations return blocked=true;
// a penalizing violation is reported through the returned SafetyInfo
// and applied later by the compliance stage.
func (g *Guard) Postflight(text string) (string, bool, domain.SafetyInfo) {
	masked := text
	if g.policy.MaskAnswerPII {
		masked = g.rules.MaskSensitive(text)
	}

	res := g.rules.ClassifyContent(masked)
	info := domain.SafetyInfo{Level: domain.SafetyLevelSafe}
	switch {
	case res.Blocked:
		info.Blocked = true
		info.Level = domain.SafetyLevelBlocked
		info.Reason = res.Reason
		info.ConfidencePenalty = res.Penalty
		info.Flags = []string{string(res.Violation)}
		return masked, true, info
	case res.Violation != ViolationNone:
		info.Level = domain.SafetyLevelWarning
		info.Reason = res.Reason
		info.ConfidencePenalty = res.Penalty
		info.Flags = []string{string(res.Violation)}
	}
	return masked, false, info
}

// MergePreflight folds preflight telemetry into a finished payload and
// applies the filtered-context confidence cap.
func (g *Guard) MergePreflight(payload domain.AnswerPayload, pre domain.SafetyInfo) domain.AnswerPayload {
	s := payload.Safety
	for _, f := range pre.Flags {
		s.Flags = appendFlag(s.Flags, f)
	}
	if pre.RiskScore > s.RiskScore {
		s.RiskScore = pre.RiskScore
	}
	s.Redactions += pre.Redactions
	if len(pre.FilteredChunkIDs) > 0 {
		s.FilteredChunkIDs = pre.FilteredChunkIDs
		payload.Confidence = math.Min(g.policy.ConfidenceCapFiltered, payload.Confidence)
		if s.Reason == "" {
			s.Reason = "Filtered suspicious context; confidence capped."
		}
	}
	if s.Reason == "" {
		s.Reason = pre.Reason
	}
	payload.Safety = s
	return payload
}
