package orchestrator

import (
	"context"
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/voicelink/internal/agent"
)

// Decision is the output of a [Decider].
type Decision struct {
	// Agents names the participating agents, in reply order.
	Agents []string

	// InstructionUpdate replaces the live session instructions when a
	// realtime agent is selected. Empty means "use the agent's own".
	InstructionUpdate string
}

// Decider picks the agents that take part in a user turn.
//
// Implementations must be safe for concurrent use.
type Decider interface {
	Decide(ctx context.Context, in Input, agents []agent.Agent) (Decision, error)
}

// ── RuleDecider ──────────────────────────────────────────────────────────────

// defaultMatchThreshold is the Jaro-Winkler score a phonetically matching
// word must reach to count as a keyword hit.
const defaultMatchThreshold = 0.85

// minFuzzyLen is the shortest keyword that may match fuzzily; shorter
// keywords must match exactly.
const minFuzzyLen = 3

// Rule routes turns containing any of its keywords to its agents.
type Rule struct {
	// Keywords are single words or short phrases, matched case-insensitively
	// and tolerant of transcription misspellings.
	Keywords []string

	// Agents are selected when a keyword matches.
	Agents []string

	// Instructions, if set, becomes the decision's instruction update.
	Instructions string
}

type compiledKeyword struct {
	text   string
	tokens []string
	codes  map[string]struct{}
}

type compiledRule struct {
	Rule
	keywords []compiledKeyword
}

// RuleDecider selects agents with keyword rules. Keywords match exactly or,
// for transcription errors, when their Double Metaphone codes overlap and
// the Jaro-Winkler similarity reaches the threshold.
type RuleDecider struct {
	rules     []compiledRule
	defaults  []string
	threshold float64
}

// RuleOption configures a [RuleDecider].
type RuleOption func(*RuleDecider)

// WithDefaultAgents selects names when no rule matches.
func WithDefaultAgents(names ...string) RuleOption {
	return func(d *RuleDecider) { d.defaults = names }
}

// WithMatchThreshold sets the minimum Jaro-Winkler score of a fuzzy match.
// Default 0.85.
func WithMatchThreshold(t float64) RuleOption {
	return func(d *RuleDecider) { d.threshold = t }
}

// NewRuleDecider compiles rules once; matching allocates only the tokenised
// input.
func NewRuleDecider(rules []Rule, opts ...RuleOption) *RuleDecider {
	d := &RuleDecider{threshold: defaultMatchThreshold}
	for _, o := range opts {
		o(d)
	}
	for _, r := range rules {
		cr := compiledRule{Rule: r}
		for _, kw := range r.Keywords {
			tokens := tokenize(kw)
			if len(tokens) == 0 {
				continue
			}
			cr.keywords = append(cr.keywords, compiledKeyword{
				text:   strings.Join(tokens, " "),
				tokens: tokens,
				codes:  codesForTokens(tokens),
			})
		}
		d.rules = append(d.rules, cr)
	}
	return d
}

// Decide implements [Decider]. Agents of all matching rules are selected in
// rule order; the first matching rule with instructions supplies the update.
func (d *RuleDecider) Decide(_ context.Context, in Input, _ []agent.Agent) (Decision, error) {
	tokens := tokenize(in.Text)
	var dec Decision
	for _, r := range d.rules {
		if !d.matchAny(tokens, r.keywords) {
			continue
		}
		for _, name := range r.Agents {
			if !slices.Contains(dec.Agents, name) {
				dec.Agents = append(dec.Agents, name)
			}
		}
		if dec.InstructionUpdate == "" {
			dec.InstructionUpdate = r.Instructions
		}
	}
	if len(dec.Agents) == 0 {
		dec.Agents = append(dec.Agents, d.defaults...)
	}
	return dec, nil
}

func (d *RuleDecider) matchAny(tokens []string, keywords []compiledKeyword) bool {
	for _, kw := range keywords {
		n := len(kw.tokens)
		for i := 0; i+n <= len(tokens); i++ {
			if d.matches(tokens[i:i+n], kw) {
				return true
			}
		}
	}
	return false
}

func (d *RuleDecider) matches(window []string, kw compiledKeyword) bool {
	joined := strings.Join(window, " ")
	if joined == kw.text {
		return true
	}
	if len(kw.text) < minFuzzyLen {
		return false
	}
	if !codesOverlap(codesForTokens(window), kw.codes) {
		return false
	}
	return matchr.JaroWinkler(joined, kw.text, false) >= d.threshold
}

// tokenize lowercases s and splits it into letter/digit runs.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
