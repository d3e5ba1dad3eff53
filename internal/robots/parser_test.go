package robots

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockedCrawlers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{
			name: "disallow scoped to one agent",
			doc:  "User-agent: BadBot\nDisallow: /\nUser-agent: GoodBot\nAllow: /\n",
			want: []string{"badbot"},
		},
		{
			name: "no user-agent lines",
			doc:  "Disallow: /private\nDisallow: /tmp\n",
			want: nil,
		},
		{
			name: "disallow before first agent is ignored",
			doc:  "Disallow: /\nUser-agent: Foo\nAllow: /\n",
			want: nil,
		},
		{
			name: "empty disallow under wildcard",
			doc:  "User-agent: *\nDisallow:\n",
			want: []string{"*"},
		},
		{
			name: "repeated disallow does not duplicate",
			doc:  "User-agent: GPTBot\nDisallow: /a\nDisallow: /b\nUser-agent: gptbot\nDisallow: /c\n",
			want: []string{"gptbot"},
		},
		{
			name: "only most recent agent line is in scope",
			doc:  "User-agent: A\nUser-agent: B\nDisallow: /\n",
			want: []string{"b"},
		},
		{
			name: "empty agent value is still eligible",
			doc:  "User-agent:\nDisallow: /x\n",
			want: []string{""},
		},
		{
			name: "indented lines and CRLF endings",
			doc:  "  User-Agent: CCBot \r\n\tDISALLOW: / \r\n",
			want: []string{"ccbot"},
		},
		{
			name: "first-seen order is kept",
			doc:  "User-agent: Zeta\nDisallow: /\nUser-agent: Alpha\nDisallow: /\n",
			want: []string{"zeta", "alpha"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := BlockedCrawlers(tt.doc)
			if tt.want == nil {
				assert.Zero(t, got.Len())
				return
			}
			assert.Equal(t, tt.want, got.Agents())
		})
	}
}

func TestBlockedCrawlersEmptyDocumentRendersEmptyString(t *testing.T) {
	t.Parallel()

	for _, doc := range []string{"", "   ", "\n\n"} {
		got := BlockedCrawlers(doc)
		require.Zero(t, got.Len())
		require.Equal(t, "", got.String())
	}
}

func TestBlockedCrawlersCaseInsensitive(t *testing.T) {
	t.Parallel()

	upper := BlockedCrawlers("User-Agent: Foo\nDisallow: /")
	lower := BlockedCrawlers("user-agent: foo\ndisallow: /")
	require.Equal(t, lower.Agents(), upper.Agents())
	require.True(t, upper.Contains("foo"))
}

func TestBlockedCrawlersIdempotent(t *testing.T) {
	t.Parallel()

	doc := "User-agent: A\nDisallow: /\nDisallow: /x\nUser-agent: B\nDisallow: /"
	first := BlockedCrawlers(doc)
	second := BlockedCrawlers(doc)
	require.Equal(t, first.Agents(), second.Agents())
	require.Equal(t, "a, b", first.String())
}

func TestUserAgentsKeepsEveryDeclaration(t *testing.T) {
	t.Parallel()

	doc := "User-agent: BadBot\nDisallow: /\nUser-agent: GoodBot\nAllow: /\nuser-agent: BadBot\n"
	require.Equal(t, []string{"BadBot", "GoodBot", "BadBot"}, UserAgents(doc))
	require.Empty(t, UserAgents(""))
	require.Empty(t, UserAgents("Disallow: /"))
}

func TestParseReportsBlockedFlagPerAgent(t *testing.T) {
	t.Parallel()

	doc := "User-agent: BadBot\nDisallow: /\nUser-agent: GoodBot\nAllow: /\n"
	require.Equal(t, []Fact{
		{Agent: "badbot", Blocked: true},
		{Agent: "goodbot", Blocked: false},
	}, Parse(doc))
	require.Empty(t, Parse(""))
}

func TestAgentSetAdd(t *testing.T) {
	t.Parallel()

	var s AgentSet
	require.True(t, s.Add("x"))
	require.False(t, s.Add("x"))
	require.True(t, s.Add("y"))
	require.Equal(t, 2, s.Len())

	agents := s.Agents()
	agents[0] = "mutated"
	require.Equal(t, []string{"x", "y"}, s.Agents())
}
