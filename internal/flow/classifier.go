package flow

import (
	"strings"

	"policycopilot/internal/models"
)

// Source says how a turn was started. Unmatched input falls back differently
// for each source.
type Source int

const (
	SourceTyped Source = iota
	SourceSuggestion
)

func (s Source) String() string {
	if s == SourceSuggestion {
		return "suggestion"
	}
	return "typed"
}

// ParseSource maps "suggestion" to SourceSuggestion and anything else to SourceTyped.
func ParseSource(v string) Source {
	if strings.EqualFold(strings.TrimSpace(v), "suggestion") {
		return SourceSuggestion
	}
	return SourceTyped
}

// Rule routes lower-cased input containing any of Any (and none of None) to Key.
type Rule struct {
	Key  Key
	Any  []string
	None []string
}

func (r Rule) matches(s string) bool {
	for _, n := range r.None {
		if strings.Contains(s, n) {
			return false
		}
	}
	for _, a := range r.Any {
		if strings.Contains(s, a) {
			return true
		}
	}
	return false
}

// Rules overlap, so order matters: the first match wins.
var rules = []Rule{
	{Key: KeyFame, Any: []string{"fame"}},
	{Key: KeyBattery, Any: []string{"battery"}, None: []string{"specs"}},
	{Key: KeyPayment, Any: []string{"payment"}},
	{Key: KeyIndonesiaCompare, Any: []string{"indonesia"}},
	{Key: KeyStateGuarantee, Any: []string{"guarantee"}},
	{Key: KeyRisk, Any: []string{"risk"}},
	{Key: KeyTechStandards, Any: []string{"technical", "specs", "charging"}},
	{Key: KeyFiscal, Any: []string{"fiscal", "registration"}},
	{Key: KeyVietnamCompare, Any: []string{"vietnam", "india", "compare"}},
	// incentive deliberately sits last rather than beside payment, so labels
	// such as "Fiscal Incentives" reach their topic before falling to payment.
	{Key: KeyPayment, Any: []string{"incentive"}},
}

// Rules returns the classifier rules in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		out[i] = Rule{
			Key:  r.Key,
			Any:  append([]string(nil), r.Any...),
			None: append([]string(nil), r.None...),
		}
	}
	return out
}

// Classify returns the first flow whose rule matches text.
func Classify(text string) (Key, bool) {
	s := strings.ToLower(text)
	for _, r := range rules {
		if r.matches(s) {
			return r.Key, true
		}
	}
	return "", false
}

// Fallback used when a clicked suggestion matches no rule.
const SuggestionFallback = KeyPayment

const clarifyAnswer = "I've analyzed your query against the repository. Could you clarify if you are looking for **fiscal incentives** or **technical standards** regarding this topic?"

var clarifySuggestions = []string{"Fiscal Incentives", "Technical Standards"}

// Reply is the assistant side of a turn.
type Reply struct {
	// Key is empty for the clarification reply.
	Key         Key
	Content     string
	Citations   []models.Citation
	Suggestions []string
}

// Clarified reports whether the reply is the generic clarification.
func (r Reply) Clarified() bool { return r.Key == "" }

// Resolve classifies text and builds the reply. Typed input that matches no
// rule gets a clarification; a suggestion that matches nothing answers with
// the payment flow.
func Resolve(text string, source Source) Reply {
	key, ok := Classify(text)
	if !ok {
		if source == SourceTyped {
			return Reply{
				Content:     clarifyAnswer,
				Suggestions: append([]string(nil), clarifySuggestions...),
			}
		}
		key = SuggestionFallback
	}
	e, _ := Lookup(key)
	return Reply{
		Key:         e.Key,
		Content:     e.Answer,
		Citations:   []models.Citation{e.Citation},
		Suggestions: e.Suggestions,
	}
}
