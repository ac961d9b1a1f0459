package flow

import (
	"fmt"
	"regexp"
	"strings"

	"policycopilot/internal/models"
)

type greeting struct {
	name        string
	suggestions []string
}

const defaultGreetingKey = ""

var greetings = map[string]greeting{
	"in": {
		name:        "Arjun",
		suggestions: []string{"Analyze Payment Security", "FAME II Incentives Cap", "Check Battery Swapping rules"},
	},
	"vn": {
		name:        "Sarah",
		suggestions: []string{"Compare with Vietnam's Policy", "Analyze Payment Security", "Check Battery Swapping rules"},
	},
	"id": {
		name:        "Dewi",
		suggestions: []string{"What about Indonesia?", "Fiscal Incentives details", "Show Technical Standards"},
	},
	defaultGreetingKey: {
		name:        "there",
		suggestions: []string{"Analyze Payment Security", "FAME II Incentives Cap", "Check Battery Swapping rules"},
	},
}

// Greeting builds the opening assistant message for a workspace. firstName
// overrides the table's name when set.
func Greeting(ws models.Workspace, firstName string) Reply {
	g, ok := greetings[ws.ID]
	if !ok {
		g = greetings[defaultGreetingKey]
	}
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = g.name
	}
	program := ws.Name
	if program == "" {
		program = ws.ID
	}
	return Reply{
		Content: fmt.Sprintf("Hello %s. I am ready to assist with the **%s** program.\n\n"+
			"I have loaded 14 active frameworks and 3 draft amendments. Where would you like to start?", name, program),
		Suggestions: append([]string(nil), g.suggestions...),
	}
}

// Span is a run of answer text, bold or plain.
type Span struct {
	Text string `json:"text"`
	Bold bool   `json:"bold,omitempty"`
}

var boldRe = regexp.MustCompile(`\*\*(.*?)\*\*`)

// Spans splits one line of markdown-flavoured text on **bold** delimiters.
func Spans(line string) []Span {
	var out []Span
	last := 0
	for _, m := range boldRe.FindAllStringSubmatchIndex(line, -1) {
		if m[0] > last {
			out = append(out, Span{Text: line[last:m[0]]})
		}
		out = append(out, Span{Text: line[m[2]:m[3]], Bold: true})
		last = m[1]
	}
	if last < len(line) {
		out = append(out, Span{Text: line[last:]})
	}
	return out
}
