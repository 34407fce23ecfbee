package safety

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/lawgraph/counsel/internal/core/domain"
)

func TestClassifyContentFirstMatchWins(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}

	// Mentions both a credential keyword and a PII keyword; PII is
	// evaluated first and must win.
	res := rules.ClassifyContent("The leaked password file also held a credit card list.")
	if res.Violation != ViolationPII {
		t.Fatalf("expected pii violation, got %v", res.Violation)
	}
	if !res.Blocked {
		t.Fatalf("expected pii to block")
	}
}

func TestClassifyContentClean(t *testing.T) {
	rules, err := LoadRules("")
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}

	res := rules.ClassifyContent("The limitation period is six years under section 12.")
	if res.Violation != ViolationNone {
		t.Fatalf("expected no violation, got %v", res.Violation)
	}
	if res.Blocked || res.Penalty != 0 {
		t.Fatalf("expected clean result, got %+v", res)
	}
}

func TestCheckContentBlocksPII(t *testing.T) {
	g := newTestGuard(t)

	payload := domain.AnswerPayload{
		Answer:     "The defendant's credit card records show the purchase.",
		Citations:  []domain.Citation{{ChunkID: "c1"}},
		Confidence: 0.8,
	}
	out := g.CheckContent(payload)
	if !out.Safety.Blocked {
		t.Fatalf("expected blocked")
	}
	if out.Answer != RefusalContent {
		t.Fatalf("expected refusal answer, got %q", out.Answer)
	}
	if len(out.Citations) != 0 {
		t.Fatalf("expected citations cleared, got %d", len(out.Citations))
	}
	if math.Abs(out.Confidence-0.2) > 1e-9 {
		t.Fatalf("expected confidence clamped to 0.2, got %v", out.Confidence)
	}
	if out.Safety.Level != domain.SafetyLevelBlocked {
		t.Fatalf("expected blocked level, got %v", out.Safety.Level)
	}
}

func TestCheckContentPenalizesCredentials(t *testing.T) {
	g := newTestGuard(t)

	payload := domain.AnswerPayload{
		Answer:     "Rotate the access token regularly per the handbook.",
		Confidence: 0.8,
	}
	out := g.CheckContent(payload)
	if out.Safety.Blocked {
		t.Fatalf("expected not blocked")
	}
	if out.Answer != payload.Answer {
		t.Fatalf("expected answer unchanged, got %q", out.Answer)
	}
	if math.Abs(out.Confidence-0.5) > 1e-9 {
		t.Fatalf("expected confidence 0.5 after penalty, got %v", out.Confidence)
	}
	if out.Safety.Level != domain.SafetyLevelWarning {
		t.Fatalf("expected warning level, got %v", out.Safety.Level)
	}
	if !hasFlag(out.Safety.Flags, string(ViolationCredentials)) {
		t.Fatalf("expected credentials flag, got %v", out.Safety.Flags)
	}
}

func TestCheckContentPreservesEarlierBlock(t *testing.T) {
	g := newTestGuard(t)

	payload := domain.AnswerPayload{
		Answer:     RefusalPreflight,
		Confidence: 0.2,
		Safety: domain.SafetyInfo{
			Blocked: true,
			Level:   domain.SafetyLevelBlocked,
			Reason:  "Prohibited intent detected",
		},
	}
	out := g.CheckContent(payload)
	if out.Answer != RefusalPreflight {
		t.Fatalf("expected earlier refusal preserved, got %q", out.Answer)
	}
	if out.Safety.Reason != "Prohibited intent detected" {
		t.Fatalf("expected earlier reason preserved, got %q", out.Safety.Reason)
	}
}

func TestCheckContentCleanAnswer(t *testing.T) {
	g := newTestGuard(t)

	payload := domain.AnswerPayload{
		Answer:     "The appeal must be lodged within 28 days of the decision.",
		Confidence: 0.72,
	}
	out := g.CheckContent(payload)
	if out.Safety.Blocked {
		t.Fatalf("expected not blocked")
	}
	if out.Confidence != 0.72 {
		t.Fatalf("expected confidence unchanged, got %v", out.Confidence)
	}
	if out.Safety.Level != domain.SafetyLevelSafe {
		t.Fatalf("expected safe level, got %v", out.Safety.Level)
	}
}

func TestLoadRulesFromFileOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	doc := `
content:
  - kind: harmful_content
    action: block
    penalty: 0.9
    reason: Flagged by the override table.
    pattern: '(?i)\bforbidden\b'
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules(%s) error = %v", path, err)
	}
	res := rules.ClassifyContent("this word is forbidden here")
	if res.Violation != ViolationHarmful || !res.Blocked {
		t.Fatalf("expected override rule to block, got %+v", res)
	}
	if res.Reason != "Flagged by the override table." {
		t.Fatalf("expected override reason, got %q", res.Reason)
	}
}

func TestLoadRulesRejectsBadPattern(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	doc := `
injection:
  - '(unclosed'
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Fatalf("expected compile error")
	}
}
