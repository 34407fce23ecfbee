package safety

import (
	"github.com/lawgraph/counsel/internal/core/domain"
)

// Violation identifies the category a content rule matched.
type Violation string

const (
	ViolationNone        Violation = "none"
	ViolationPII         Violation = "pii"
	ViolationCredentials Violation = "credentials"
	ViolationHarmful     Violation = "harmful_content"
	ViolationMedical     Violation = "medical_advice"
)

// ContentResult is the outcome of a single-pass content check.
type ContentResult struct {
	Violation Violation
	Blocked   bool
	Penalty   float64
	Reason    string
}

const noViolationReason = "No safety violations detected."

// ClassifyContent runs the content rules over text in table order and
// returns the first match. Rule order is the priority order.
func (rs *RuleSet) ClassifyContent(text string) ContentResult {
	for _, c := range rs.content {
		if c.re.MatchString(text) {
			return ContentResult{
				Violation: c.kind,
				Blocked:   c.block,
				Penalty:   c.penalty,
				Reason:    c.reason,
			}
		}
	}
	return ContentResult{Violation: ViolationNone, Reason: noViolationReason}
}

// CheckContent applies the single-pass content check to a finished
// payload. Blocking violations replace the answer with a refusal and
// drop citations; penalizing violations reduce confidence within
// [MinConfidence, MaxConfidence]. Payloads that an earlier guard phase
// already blocked pass through unchanged so the refusal and its reason
// survive the compliance stage.
func (g *Guard) CheckContent(payload domain.AnswerPayload) domain.AnswerPayload {
	if payload.Safety.Blocked {
		return payload
	}
	if payload.Answer == "" {
		payload.Safety.Level = domain.SafetyLevelSafe
		payload.Safety.Reason = noViolationReason
		return payload
	}
	res := g.rules.ClassifyContent(payload.Answer)

	payload.Safety.Reason = res.Reason
	payload.Safety.ConfidencePenalty = res.Penalty
	if res.Violation != ViolationNone {
		payload.Safety.Flags = appendFlag(payload.Safety.Flags, string(res.Violation))
	}
	if res.Penalty > 0 {
		payload.Confidence = clamp(payload.Confidence-res.Penalty, g.policy.MinConfidence, g.policy.MaxConfidence)
	}

	switch {
	case res.Blocked:
		payload.Safety.Blocked = true
		payload.Safety.Level = domain.SafetyLevelBlocked
		payload.Answer = RefusalContent
		payload.Citations = nil
	case res.Violation != ViolationNone:
		payload.Safety.Level = domain.SafetyLevelWarning
	default:
		payload.Safety.Level = domain.SafetyLevelSafe
	}
	return payload
}

func appendFlag(flags []string, flag string) []string {
	for _, f := range flags {
		if f == flag {
			return flags
		}
	}
	return append(flags, flag)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
