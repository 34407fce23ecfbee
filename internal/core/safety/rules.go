// Package safety implements the two-phase guardrail around answer
// generation: a preflight pass over the question and retrieved context,
// a postflight pass over generated text, and a single-pass content
// checker used by the compliance stage. All detection is data-driven:
// the rule tables ship as an embedded YAML document and can be replaced
// at startup without recompiling.
package safety

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// ruleFile is the on-disk shape of a rule table document.
type ruleFile struct {
	ProhibitedIntent []string      `yaml:"prohibited_intent"`
	Injection        []string      `yaml:"injection"`
	PII              []string      `yaml:"pii"`
	Secrets          []string      `yaml:"secrets"`
	Masks            []maskRule    `yaml:"masks"`
	Content          []contentRule `yaml:"content"`
}

type maskRule struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

type contentRule struct {
	Kind    string  `yaml:"kind"`
	Action  string  `yaml:"action"`
	Penalty float64 `yaml:"penalty"`
	Reason  string  `yaml:"reason"`
	Pattern string  `yaml:"pattern"`
}

const (
	actionBlock    = "block"
	actionPenalize = "penalize"
)

type compiledMask struct {
	name        string
	re          *regexp.Regexp
	replacement string
}

type compiledContent struct {
	kind    Violation
	block   bool
	penalty float64
	reason  string
	re      *regexp.Regexp
}

// RuleSet holds the compiled rule tables. It is immutable after
// LoadRules and safe for concurrent use.
type RuleSet struct {
	prohibitedIntent []*regexp.Regexp
	injection        []*regexp.Regexp
	pii              []*regexp.Regexp
	secrets          []*regexp.Regexp
	masks            []compiledMask
	content          []compiledContent
}

// LoadRules compiles the rule tables from the YAML document at path,
// or from the embedded defaults when path is empty.
func LoadRules(path string) (*RuleSet, error) {
	data := defaultRulesYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("safety: read rules %s: %w", path, err)
		}
		data = b
	}
	return parseRules(data)
}

func parseRules(data []byte) (*RuleSet, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("safety: parse rules: %w", err)
	}
	rs := &RuleSet{}
	var err error
	if rs.prohibitedIntent, err = compileAll("prohibited_intent", f.ProhibitedIntent); err != nil {
		return nil, err
	}
	if rs.injection, err = compileAll("injection", f.Injection); err != nil {
		return nil, err
	}
	if rs.pii, err = compileAll("pii", f.PII); err != nil {
		return nil, err
	}
	if rs.secrets, err = compileAll("secrets", f.Secrets); err != nil {
		return nil, err
	}
	for _, m := range f.Masks {
		re, cerr := regexp.Compile(m.Pattern)
		if cerr != nil {
			return nil, fmt.Errorf("safety: compile mask %s: %w", m.Name, cerr)
		}
		rs.masks = append(rs.masks, compiledMask{name: m.Name, re: re, replacement: m.Replacement})
	}
	for _, c := range f.Content {
		if c.Action != actionBlock && c.Action != actionPenalize {
			return nil, fmt.Errorf("safety: content rule %s: unknown action %q", c.Kind, c.Action)
		}
		re, cerr := regexp.Compile(c.Pattern)
		if cerr != nil {
			return nil, fmt.Errorf("safety: compile content rule %s: %w", c.Kind, cerr)
		}
		rs.content = append(rs.content, compiledContent{
			kind:    Violation(c.Kind),
			block:   c.Action == actionBlock,
			penalty: c.Penalty,
			reason:  c.Reason,
			re:      re,
		})
	}
	return rs, nil
}

func compileAll(table string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("safety: compile %s[%d]: %w", table, i, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchAny(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func countMatches(res []*regexp.Regexp, text string) int {
	n := 0
	for _, re := range res {
		n += len(re.FindAllStringIndex(text, -1))
	}
	return n
}

// MaskSensitive rewrites card-number runs and credential assignments in
// text with fixed placeholders.
func (rs *RuleSet) MaskSensitive(text string) string {
	for _, m := range rs.masks {
		text = m.re.ReplaceAllString(text, m.replacement)
	}
	return text
}
