package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emiliopalmerini/tracebridge/internal/domain"
)

var t0 = time.Date(2024, 1, 15, 10, 30, 45, 0, time.UTC)

func newTestSession(sink *fakeSink) *Session {
	id := domain.Identity{
		OrganizationID: "org-1",
		UserEmail:      "dev@example.com",
		TerminalType:   "iTerm",
		AppVersion:     "1.0.60",
	}
	return newSession("s1", id, sink, zerolog.Nop(), t0)
}

func TestUserPromptOpensConversation(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)

	s.ApplyEvent(domain.UserPrompt{Time: t0, Prompt: "What is 2+2?", PromptLength: 12})

	require.Len(t, sink.traces, 1)
	tr := sink.traces[0]
	assert.Equal(t, "conversation-1", tr.Name)
	assert.Equal(t, "s1", tr.SessionID)
	assert.Equal(t, map[string]any{"prompt": "What is 2+2?", "length": int64(12)}, tr.Input)
	assert.Equal(t, "org-1", tr.Metadata["organizationId"])
	assert.Equal(t, tr.Handle, s.currentTrace)
}

func TestConsecutivePromptsNumberConversations(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)

	s.ApplyEvent(domain.UserPrompt{Time: t0, Prompt: "first", PromptLength: 5})
	s.ApplyEvent(domain.UserPrompt{Time: t0.Add(time.Minute), Prompt: "second", PromptLength: 6})

	require.Len(t, sink.traces, 2)
	assert.Equal(t, "conversation-1", sink.traces[0].Name)
	assert.Equal(t, "conversation-2", sink.traces[1].Name)
	assert.Equal(t, sink.traces[1].Handle, s.currentTrace)
}

func TestAPIRequestCreatesGeneration(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)

	s.ApplyEvent(domain.UserPrompt{Time: t0, Prompt: "What is 2+2?", PromptLength: 12})
	s.ApplyEvent(domain.APIRequest{
		Time:         t0.Add(time.Second),
		Model:        "m-opus",
		InputTokens:  10,
		OutputTokens: 5,
		CostUSD:      0.001,
		HasCost:      true,
		DurationMS:   800,
	})

	require.Len(t, sink.generations, 1)
	g := sink.generations[0]
	assert.Equal(t, sink.traces[0].Handle, g.TraceHandle)
	assert.Equal(t, "m-opus", g.Model)
	assert.Equal(t, int64(10), g.Usage.Input)
	assert.Equal(t, int64(5), g.Usage.Output)
	assert.Equal(t, int64(15), g.Usage.Total)
	assert.Equal(t, "TOKENS", g.Usage.Unit)
	assert.Equal(t, 0.001, g.Metadata["cost"])
	assert.Equal(t, 800*time.Millisecond, g.End.Sub(g.Start))

	assert.Equal(t, int64(1), s.apiCallCount)
	assert.Equal(t, 0.001, s.totalCostUSD)
	assert.Equal(t, int64(10), s.tokens.Input)
	assert.Equal(t, int64(5), s.tokens.Output)
}

func TestAPIRequestWithoutPromptOpensSyntheticConversation(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)

	s.ApplyEvent(domain.APIRequest{Time: t0, Model: "m-opus", InputTokens: 10, OutputTokens: 5, CostUSD: 0.001, HasCost: true})

	require.Len(t, sink.traces, 1)
	assert.Equal(t, "conversation-1", sink.traces[0].Name)
	assert.Equal(t, map[string]any{"prompt": "", "length": int64(0)}, sink.traces[0].Input)
	require.Len(t, sink.generations, 1)
	assert.Equal(t, sink.traces[0].Handle, sink.generations[0].TraceHandle)
}

func TestTotalTokensIdentity(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)

	s.ApplyEvent(domain.APIRequest{Time: t0, Model: "a", InputTokens: 7, OutputTokens: 3, CacheReadTokens: 20, CacheCreationTokens: 4})
	s.ApplyMetric(domain.Sample{Name: domain.MetricTokenUsage, Time: t0, Value: 11, Attrs: domain.Bag{"type": "input", "model": "a"}})
	s.ApplyMetric(domain.Sample{Name: domain.MetricTokenUsage, Time: t0, Value: 5, Attrs: domain.Bag{"type": "cacheRead", "model": "a"}})

	total := s.tokens.Input + s.tokens.Output + s.tokens.CacheRead + s.tokens.CacheCreation
	assert.Equal(t, total, s.tokens.Total())
	assert.Equal(t, int64(7+3+20+4+11+5), s.tokens.Total())
}

func TestToolResultEvent(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)

	s.ApplyEvent(domain.UserPrompt{Time: t0, Prompt: "p", PromptLength: 1})
	s.ApplyEvent(domain.ToolResult{Time: t0, ToolName: "Write", Success: true, DurationMS: 300})

	require.Len(t, sink.events, 1)
	e := sink.events[0]
	assert.Equal(t, "tool-Write", e.Name)
	assert.Equal(t, map[string]any{"success": true, "durationMs": int64(300)}, e.Output)
	assert.Equal(t, "DEFAULT", string(e.Level))
	assert.Equal(t, int64(1), s.toolResultCount)
}

func TestAPIErrorEvent(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)

	s.ApplyEvent(domain.UserPrompt{Time: t0, Prompt: "p", PromptLength: 1})
	s.ApplyEvent(domain.APIError{Time: t0, Model: "m-opus", Message: "Rate limit", StatusCode: 429})

	require.Len(t, sink.events, 1)
	assert.Equal(t, "ERROR", string(sink.events[0].Level))
	assert.Equal(t, int64(1), s.apiErrorCount)
}

func TestCounterEventsWithoutConversationStillCount(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)

	s.ApplyEvent(domain.APIError{Time: t0, Model: "m", Message: "boom", StatusCode: 500})
	s.ApplyEvent(domain.ToolResult{Time: t0, ToolName: "Read", Success: false, DurationMS: 10})

	assert.Empty(t, sink.events, "no current trace, nothing emitted")
	assert.Equal(t, int64(1), s.apiErrorCount)
	assert.Equal(t, int64(1), s.toolResultCount)
}

func TestToolDecisionLevels(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)
	s.ApplyEvent(domain.UserPrompt{Time: t0, Prompt: "p", PromptLength: 1})

	s.ApplyEvent(domain.ToolDecision{Time: t0, ToolName: "Bash", Decision: "accept", Source: "config"})
	s.ApplyEvent(domain.ToolDecision{Time: t0, ToolName: "Bash", Decision: "reject", Source: "user"})

	require.Len(t, sink.events, 2)
	assert.Equal(t, "DEFAULT", string(sink.events[0].Level))
	assert.Equal(t, "WARNING", string(sink.events[1].Level))
	assert.Len(t, s.toolDecisions, 2)
}

func TestCostMetricDedupedAgainstEventCost(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)

	s.ApplyEvent(domain.APIRequest{Time: t0, Model: "m-opus", InputTokens: 1, OutputTokens: 1, CostUSD: 0.01, HasCost: true})
	// Same model, one second later: the metric rendition of the same charge.
	s.ApplyMetric(domain.Sample{Name: domain.MetricCostUsage, Time: t0.Add(time.Second), Value: 0.01, Attrs: domain.Bag{"model": "m-opus"}})
	assert.Equal(t, 0.01, s.totalCostUSD)

	// Outside the window the metric counts.
	s.ApplyMetric(domain.Sample{Name: domain.MetricCostUsage, Time: t0.Add(5 * time.Second), Value: 0.02, Attrs: domain.Bag{"model": "m-opus"}})
	assert.InDelta(t, 0.03, s.totalCostUSD, 1e-9)

	// Different model is never suppressed.
	s.ApplyMetric(domain.Sample{Name: domain.MetricCostUsage, Time: t0.Add(time.Second), Value: 0.05, Attrs: domain.Bag{"model": "m-haiku"}})
	assert.InDelta(t, 0.08, s.totalCostUSD, 1e-9)
}

func TestLinesAndCountMetrics(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)

	s.ApplyMetric(domain.Sample{Name: domain.MetricLinesOfCode, Time: t0, Value: 12, Attrs: domain.Bag{"type": "added"}})
	s.ApplyMetric(domain.Sample{Name: domain.MetricLinesOfCode, Time: t0, Value: 4, Attrs: domain.Bag{"type": "removed"}})
	s.ApplyMetric(domain.Sample{Name: domain.MetricLinesOfCode, Time: t0, Value: 9, Attrs: domain.Bag{"type": "modified"}})
	s.ApplyMetric(domain.Sample{Name: domain.MetricCommitCount, Time: t0, Value: 1, Attrs: domain.Bag{}})
	s.ApplyMetric(domain.Sample{Name: domain.MetricPRCount, Time: t0, Value: 1, Attrs: domain.Bag{}})
	s.ApplyMetric(domain.Sample{Name: domain.MetricPullRequestCount, Time: t0.Add(time.Second), Value: 1, Attrs: domain.Bag{}})

	assert.Equal(t, int64(12), s.linesAdded)
	assert.Equal(t, int64(4), s.linesRemoved)
	assert.Equal(t, int64(1), s.commitCount)
	assert.Equal(t, int64(2), s.prCount)
}

func TestActiveTimeLastWins(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)

	s.ApplyMetric(domain.Sample{Name: domain.MetricActiveTime, Time: t0, Value: 120, Attrs: domain.Bag{}})
	s.ApplyMetric(domain.Sample{Name: domain.MetricActiveTime, Time: t0.Add(time.Minute), Value: 90, Attrs: domain.Bag{}})

	assert.Equal(t, 90.0, s.activeTimeSeconds)
}

func TestCodeEditDecisionMetric(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)
	s.ApplyEvent(domain.UserPrompt{Time: t0, Prompt: "p", PromptLength: 1})

	s.ApplyMetric(domain.Sample{
		Name:  domain.MetricCodeEditDecision,
		Time:  t0,
		Value: 1,
		Attrs: domain.Bag{"tool_name": "Edit", "decision": "reject", "language": "go"},
	})

	require.Len(t, s.toolDecisions, 1)
	assert.Equal(t, "Edit", s.toolDecisions[0].Tool)
	assert.Equal(t, "go", s.toolDecisions[0].Language)

	require.Len(t, sink.events, 1)
	assert.Equal(t, "code-edit-decision", sink.events[0].Name)
	assert.Equal(t, "WARNING", string(sink.events[0].Level))
}

func TestUnknownMetricIgnored(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)

	s.ApplyMetric(domain.Sample{Name: "claude_code.quota.remaining", Time: t0, Value: 3, Attrs: domain.Bag{}})

	assert.Empty(t, sink.traces)
	assert.Zero(t, s.totalCostUSD)
}

func TestFinalizeEmitsSummaryAndScores(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)

	// Scenarios 1-3: prompt, request, tool result, error.
	s.ApplyEvent(domain.UserPrompt{Time: t0, Prompt: "What is 2+2?", PromptLength: 12})
	s.ApplyEvent(domain.APIRequest{Time: t0, Model: "m-opus", InputTokens: 10, OutputTokens: 5, CostUSD: 0.001, HasCost: true})
	s.ApplyEvent(domain.ToolResult{Time: t0, ToolName: "Write", Success: true, DurationMS: 300})
	s.ApplyEvent(domain.APIError{Time: t0, Model: "m-opus", Message: "Rate limit", StatusCode: 429})

	s.Finalize()

	summaries := sink.tracesNamed("session-summary")
	require.Len(t, summaries, 1)
	out := summaries[0].Output.(map[string]any)
	assert.Equal(t, int64(1), out["conversationCount"])
	assert.Equal(t, int64(1), out["apiCallCount"])
	assert.Equal(t, int64(1), out["toolCallCount"])
	assert.Equal(t, 0.001, out["totalCost"])
	assert.Equal(t, int64(15), out["totalTokens"])

	require.Len(t, sink.scores, 2)
	quality := sink.scores[0]
	assert.Equal(t, "quality", quality.Name)
	assert.InDelta(t, 0.9, quality.Value, 1e-9)
	assert.Equal(t, "1 errors, 0 rejections", quality.Comment)

	efficiency := sink.scores[1]
	assert.Equal(t, "efficiency", efficiency.Name)
	assert.GreaterOrEqual(t, efficiency.Value, 0.0)
	assert.LessOrEqual(t, efficiency.Value, 1.0)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)
	s.ApplyEvent(domain.UserPrompt{Time: t0, Prompt: "p", PromptLength: 1})

	s.Finalize()
	s.Finalize()

	assert.Len(t, sink.tracesNamed("session-summary"), 1)
	assert.Len(t, sink.scores, 2)
}

func TestNoMutationAfterFinalize(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)
	s.Finalize()

	s.ApplyEvent(domain.APIRequest{Time: t0, Model: "m", InputTokens: 10, OutputTokens: 5})
	s.ApplyMetric(domain.Sample{Name: domain.MetricCommitCount, Time: t0, Value: 3, Attrs: domain.Bag{}})

	assert.Zero(t, s.apiCallCount)
	assert.Zero(t, s.commitCount)
	assert.Len(t, sink.tracesNamed("session-summary"), 1)
	assert.Empty(t, sink.generations)
}

func TestIdentityFirstWriteWins(t *testing.T) {
	sink := newFakeSink()
	s := newSession("s1", domain.Identity{OrganizationID: "org-1"}, sink, zerolog.Nop(), t0)

	s.mergeIdentity(domain.Identity{OrganizationID: "org-2", UserEmail: "late@example.com"})

	assert.Equal(t, "org-1", s.identity.OrganizationID, "conflicting value is ignored")
	assert.Equal(t, "late@example.com", s.identity.UserEmail, "empty field is filled")
}

func TestPerModelAggregates(t *testing.T) {
	sink := newFakeSink()
	s := newTestSession(sink)

	s.ApplyEvent(domain.APIRequest{Time: t0, Model: "m-opus", InputTokens: 10, OutputTokens: 5, CostUSD: 0.01, HasCost: true})
	s.ApplyEvent(domain.APIRequest{Time: t0, Model: "m-haiku", InputTokens: 2, OutputTokens: 1, CostUSD: 0.001, HasCost: true})

	require.Contains(t, s.models, "m-opus")
	require.Contains(t, s.models, "m-haiku")
	assert.Equal(t, int64(10), s.models["m-opus"].Tokens.Input)
	assert.Equal(t, 0.01, s.models["m-opus"].CostUSD)
	assert.Equal(t, 0.001, s.models["m-haiku"].CostUSD)
}
