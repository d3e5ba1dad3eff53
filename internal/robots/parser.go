package robots

import "strings"

// Fact records whether a declared agent has at least one disallow rule.
type Fact struct {
	Agent   string
	Blocked bool
}

// AgentSet is an insertion-ordered set of case-folded agent names.
type AgentSet struct {
	order []string
	index map[string]struct{}
}

// Add inserts agent if it is not already present and reports whether it was new.
func (s *AgentSet) Add(agent string) bool {
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[agent]; ok {
		return false
	}
	s.index[agent] = struct{}{}
	s.order = append(s.order, agent)
	return true
}

// Contains reports whether agent is a member.
func (s AgentSet) Contains(agent string) bool {
	_, ok := s.index[agent]
	return ok
}

// Len returns the number of members.
func (s AgentSet) Len() int {
	return len(s.order)
}

// Agents returns the members in first-seen order.
func (s AgentSet) Agents() []string {
	return append([]string(nil), s.order...)
}

// String joins the members with ", ". An empty set renders as "".
func (s AgentSet) String() string {
	return strings.Join(s.order, ", ")
}

// BlockedCrawlers returns every agent with at least one disallow rule scoped to
// it. Agents are case-folded; an empty document yields an empty set.
func BlockedCrawlers(text string) AgentSet {
	var blocked AgentSet
	for _, d := range Scan(text) {
		if d.Kind == KindDisallow {
			blocked.Add(d.Agent)
		}
	}
	return blocked
}

// UserAgents lists the value of every user-agent line in document order,
// keeping duplicates and the declared casing, whether or not the agent has
// any disallow rule.
func UserAgents(text string) []string {
	var agents []string
	for _, d := range Scan(text) {
		if d.Kind == KindUserAgent {
			agents = append(agents, d.Value)
		}
	}
	return agents
}

// Parse returns one Fact per distinct declared agent, in first-seen order.
func Parse(text string) []Fact {
	var (
		declared AgentSet
		blocked  AgentSet
	)
	for _, d := range Scan(text) {
		switch d.Kind {
		case KindUserAgent:
			declared.Add(d.Agent)
		case KindDisallow:
			blocked.Add(d.Agent)
		}
	}
	facts := make([]Fact, 0, declared.Len())
	for _, agent := range declared.order {
		facts = append(facts, Fact{Agent: agent, Blocked: blocked.Contains(agent)})
	}
	return facts
}
