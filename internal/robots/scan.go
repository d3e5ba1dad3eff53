// Package robots extracts crawler facts from robots.txt documents.
//
// Every reduction in this package is built on Scan, a single-pass fold over the
// document's lines that tracks the user agent currently in scope. Only the most
// recent "user-agent:" line is in scope; a run of several agent lines does not
// share the directives that follow it.
package robots

import (
	"strings"
)

const (
	userAgentPrefix = "user-agent:"
	disallowPrefix  = "disallow:"
)

// Kind identifies the directive a line carries.
type Kind int

// Directive kinds recognised by Scan.
const (
	KindUserAgent Kind = iota + 1
	KindDisallow
)

// String returns the lowercase directive keyword.
func (k Kind) String() string {
	switch k {
	case KindUserAgent:
		return "user-agent"
	case KindDisallow:
		return "disallow"
	default:
		return "unknown"
	}
}

// Directive is one recognised line of a robots.txt document.
//
// Agent is always case-folded. For KindUserAgent, Value holds the declared agent
// with its original casing; for KindDisallow, Value holds the (possibly empty)
// folded path and Agent names the agent in scope.
type Directive struct {
	Kind  Kind
	Agent string
	Value string
	Line  int
}

// scanState is the single piece of state threaded through the fold.
type scanState struct {
	agent   string
	inScope bool
}

// step consumes one line and returns the next state plus the directive the line
// produced, if any.
func step(state scanState, raw string, lineNo int) (scanState, Directive, bool) {
	line := strings.TrimSpace(raw)
	folded := strings.ToLower(line)

	switch {
	case strings.HasPrefix(folded, userAgentPrefix):
		value := strings.TrimSpace(line[len(userAgentPrefix):])
		agent := strings.ToLower(value)
		next := scanState{agent: agent, inScope: true}
		return next, Directive{Kind: KindUserAgent, Agent: agent, Value: value, Line: lineNo}, true
	case strings.HasPrefix(folded, disallowPrefix):
		if !state.inScope {
			return state, Directive{}, false
		}
		value := strings.TrimSpace(folded[len(disallowPrefix):])
		return state, Directive{Kind: KindDisallow, Agent: state.agent, Value: value, Line: lineNo}, true
	default:
		return state, Directive{}, false
	}
}

// Scan folds over the lines of text and returns the recognised directives in
// document order. Empty input yields nil.
func Scan(text string) []Directive {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var (
		state scanState
		out   []Directive
	)
	for i, raw := range splitLines(text) {
		var (
			d  Directive
			ok bool
		)
		state, d, ok = step(state, raw, i+1)
		if ok {
			out = append(out, d)
		}
	}
	return out
}

// splitLines splits on \n, \r\n and lone \r line endings.
func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.Split(text, "\n")
}
