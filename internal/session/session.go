// Package session holds the stateful aggregation core: per-session running
// aggregates, conversation lifecycle, summary emission, and the registry that
// owns session lookup, idle timeout and shutdown.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/emiliopalmerini/tracebridge/internal/domain"
	"github.com/emiliopalmerini/tracebridge/internal/ports"
)

// dedupeWindow bounds how long an event-side cost suppresses the metric
// rendition of the same charge.
const dedupeWindow = 2 * time.Second

// TokenCounts groups the four token counters tracked per session and model.
type TokenCounts struct {
	Input         int64
	Output        int64
	CacheRead     int64
	CacheCreation int64
}

// Total sums all four counters.
func (t TokenCounts) Total() int64 {
	return t.Input + t.Output + t.CacheRead + t.CacheCreation
}

// ModelUsage tracks tokens and cost attributed to one model.
type ModelUsage struct {
	Tokens  TokenCounts
	CostUSD float64
}

// Session owns all mutable state for one session key. Every mutation runs
// under the session's own lock; the registry only reads the atomic activity
// stamp from outside.
type Session struct {
	key  string
	sink ports.ObservationSink
	log  zerolog.Logger

	lastActivity atomic.Int64

	mu        sync.Mutex
	identity  domain.Identity
	createdAt time.Time
	finalized bool

	totalCostUSD      float64
	tokens            TokenCounts
	models            map[string]*ModelUsage
	linesAdded        int64
	linesRemoved      int64
	commitCount       int64
	prCount           int64
	activeTimeSeconds float64
	toolDecisions     []domain.DecisionRecord
	toolResultCount   int64
	apiErrorCount     int64
	apiCallCount      int64
	started           bool

	conversationIndex int64
	currentTrace      string

	lastEventCost map[string]time.Time
	lastPRMetric  map[string]time.Time
}

func newSession(key string, id domain.Identity, sink ports.ObservationSink, log zerolog.Logger, now time.Time) *Session {
	s := &Session{
		key:           key,
		sink:          sink,
		log:           log.With().Str("session", key).Logger(),
		identity:      id,
		createdAt:     now,
		models:        make(map[string]*ModelUsage),
		lastEventCost: make(map[string]time.Time),
		lastPRMetric:  make(map[string]time.Time),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// Key returns the session key.
func (s *Session) Key() string { return s.key }

// Touch stamps the session as active at now.
func (s *Session) Touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

// LastActivity returns the most recent activity stamp.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// mergeIdentity fills empty identity fields, first-write-wins. Conflicting
// non-empty values are ignored and noted at debug.
func (s *Session) mergeIdentity(id domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	merge := func(dst *string, src, field string) {
		if src == "" {
			return
		}
		if *dst == "" {
			*dst = src
			return
		}
		if *dst != src {
			s.log.Debug().Str("field", field).Str("kept", *dst).Str("ignored", src).Msg("conflicting identity attribute")
		}
	}
	merge(&s.identity.OrganizationID, id.OrganizationID, "organization.id")
	merge(&s.identity.UserAccountUUID, id.UserAccountUUID, "user.account_uuid")
	merge(&s.identity.UserEmail, id.UserEmail, "user.email")
	merge(&s.identity.TerminalType, id.TerminalType, "terminal.type")
	merge(&s.identity.AppVersion, id.AppVersion, "app.version")
}

func (s *Session) identityMetadata() map[string]any {
	return map[string]any{
		"organizationId":  s.identity.OrganizationID,
		"userAccountUuid": s.identity.UserAccountUUID,
		"userEmail":       s.identity.UserEmail,
		"terminalType":    s.identity.TerminalType,
		"appVersion":      s.identity.AppVersion,
	}
}

// ApplyEvent updates aggregates, performs conversation transitions and emits
// backend entities for one normalized log event. No-op after finalization.
func (s *Session) ApplyEvent(evt domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return
	}

	switch e := evt.(type) {
	case domain.UserPrompt:
		s.openConversation(e.Prompt, e.PromptLength)
	case domain.APIRequest:
		s.applyAPIRequest(e)
	case domain.APIError:
		s.apiErrorCount++
		if s.currentTrace != "" {
			s.sink.Event(s.currentTrace, "api-error",
				map[string]any{"model": e.Model, "requestId": e.RequestID},
				map[string]any{"error": e.Message, "statusCode": e.StatusCode},
				nil, ports.LevelError)
		}
	case domain.ToolResult:
		s.toolResultCount++
		if s.currentTrace != "" {
			s.sink.Event(s.currentTrace, "tool-"+e.ToolName,
				nil,
				map[string]any{"success": e.Success, "durationMs": e.DurationMS},
				nil, ports.LevelDefault)
		}
	case domain.ToolDecision:
		s.toolDecisions = append(s.toolDecisions, domain.DecisionRecord{
			Tool:     e.ToolName,
			Decision: e.Decision,
			Source:   e.Source,
			Time:     e.Time,
		})
		level := ports.LevelDefault
		if e.Decision != "accept" {
			level = ports.LevelWarning
		}
		if s.currentTrace != "" {
			s.sink.Event(s.currentTrace, "tool-decision",
				map[string]any{"tool": e.ToolName, "decision": e.Decision, "source": e.Source},
				nil, nil, level)
		}
	}
}

// openConversation increments the conversation counter and creates the trace
// that represents it. The previous trace, if any, is left as-is.
func (s *Session) openConversation(prompt string, length int64) {
	s.conversationIndex++
	name := fmt.Sprintf("conversation-%d", s.conversationIndex)
	input := map[string]any{"prompt": prompt, "length": length}
	s.currentTrace = s.sink.Trace(name, s.key, input, nil, s.identityMetadata())
}

func (s *Session) applyAPIRequest(e domain.APIRequest) {
	if s.currentTrace == "" {
		// Request arrived before any prompt: open a synthetic conversation so
		// the generation has a parent.
		s.openConversation("", 0)
	}

	metadata := map[string]any{
		"cost": e.CostUSD,
		"cache": map[string]any{
			"read":     e.CacheReadTokens,
			"creation": e.CacheCreationTokens,
		},
	}
	if e.RequestID != "" {
		metadata["requestId"] = e.RequestID
	}
	s.sink.Generation(s.currentTrace, "", e.Model,
		e.Time, e.Time.Add(time.Duration(e.DurationMS)*time.Millisecond),
		ports.Usage{
			Input:  e.InputTokens,
			Output: e.OutputTokens,
			Total:  e.InputTokens + e.OutputTokens,
			Unit:   "TOKENS",
		}, metadata)

	s.tokens.Input += e.InputTokens
	s.tokens.Output += e.OutputTokens
	s.tokens.CacheRead += e.CacheReadTokens
	s.tokens.CacheCreation += e.CacheCreationTokens

	m := s.modelUsage(e.Model)
	m.Tokens.Input += e.InputTokens
	m.Tokens.Output += e.OutputTokens
	m.Tokens.CacheRead += e.CacheReadTokens
	m.Tokens.CacheCreation += e.CacheCreationTokens

	if e.HasCost {
		s.totalCostUSD += e.CostUSD
		m.CostUSD += e.CostUSD
		s.lastEventCost[e.Model] = e.Time
	}
	s.apiCallCount++
}

func (s *Session) modelUsage(model string) *ModelUsage {
	m, ok := s.models[model]
	if !ok {
		m = &ModelUsage{}
		s.models[model] = m
	}
	return m
}

// ApplyMetric updates aggregates for one metric datapoint. No-op after
// finalization.
func (s *Session) ApplyMetric(sample domain.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return
	}

	switch sample.Name {
	case domain.MetricCostUsage:
		s.applyCostMetric(sample)
	case domain.MetricTokenUsage:
		s.applyTokenMetric(sample)
	case domain.MetricLinesOfCode:
		switch sample.Attrs.StringOr("type", "") {
		case "added":
			s.linesAdded += int64(sample.Value)
		case "removed":
			s.linesRemoved += int64(sample.Value)
		default:
			s.log.Debug().Str("type", sample.Attrs.StringOr("type", "")).Msg("lines_of_code datapoint with unrecognized type")
		}
	case domain.MetricCommitCount:
		s.commitCount += int64(sample.Value)
	case domain.MetricPRCount, domain.MetricPullRequestCount:
		s.applyPRMetric(sample)
	case domain.MetricSessionCount:
		s.started = true
	case domain.MetricActiveTime:
		// Last report wins: the client re-sends the running total.
		s.activeTimeSeconds = sample.Value
	case domain.MetricCodeEditDecision:
		s.applyCodeEditDecision(sample)
	default:
		s.log.Debug().Str("metric", sample.Name).Msg("ignoring unknown metric")
	}
}

// applyCostMetric adds metric-side cost unless an api_request already recorded
// cost for the same model inside the dedupe window; the event side is
// authoritative.
func (s *Session) applyCostMetric(sample domain.Sample) {
	model := sample.Attrs.String("model")
	if last, ok := s.lastEventCost[model]; ok {
		delta := sample.Time.Sub(last)
		if delta < 0 {
			delta = -delta
		}
		if delta < dedupeWindow {
			s.log.Debug().Str("model", model).Float64("usd", sample.Value).Msg("cost datapoint suppressed by event-side cost")
			return
		}
	}
	s.totalCostUSD += sample.Value
	s.modelUsage(model).CostUSD += sample.Value
}

func (s *Session) applyTokenMetric(sample domain.Sample) {
	v := int64(sample.Value)
	m := s.modelUsage(sample.Attrs.String("model"))
	switch sample.Attrs.StringOr("type", "") {
	case "input":
		s.tokens.Input += v
		m.Tokens.Input += v
	case "output":
		s.tokens.Output += v
		m.Tokens.Output += v
	case "cacheRead":
		s.tokens.CacheRead += v
		m.Tokens.CacheRead += v
	case "cacheCreation":
		s.tokens.CacheCreation += v
		m.Tokens.CacheCreation += v
	default:
		s.log.Debug().Str("type", sample.Attrs.StringOr("type", "")).Msg("token datapoint with unrecognized type")
	}
}

// applyPRMetric treats both pull request metric names identically; the client
// has been observed emitting both for one action.
func (s *Session) applyPRMetric(sample domain.Sample) {
	other := domain.MetricPullRequestCount
	if sample.Name == other {
		other = domain.MetricPRCount
	}
	if last, ok := s.lastPRMetric[other]; ok && sample.Time.Sub(last) < dedupeWindow && sample.Time.Sub(last) > -dedupeWindow {
		s.log.Debug().Str("metric", sample.Name).Str("sibling", other).Msg("both pull request metric names observed within 2s")
	}
	s.lastPRMetric[sample.Name] = sample.Time
	s.prCount += int64(sample.Value)
}

func (s *Session) applyCodeEditDecision(sample domain.Sample) {
	rec := domain.DecisionRecord{
		Tool:     sample.Attrs.String("tool_name"),
		Decision: sample.Attrs.String("decision"),
		Language: sample.Attrs.StringOr("language", ""),
		Count:    sample.Value,
		Time:     sample.Time,
	}
	s.toolDecisions = append(s.toolDecisions, rec)

	if s.currentTrace == "" {
		return
	}
	level := ports.LevelDefault
	if rec.Decision != "accept" {
		level = ports.LevelWarning
	}
	s.sink.Event(s.currentTrace, "code-edit-decision",
		map[string]any{"tool": rec.Tool, "decision": rec.Decision, "language": rec.Language},
		nil, nil, level)
}

// Finalize emits the session summary trace with its quality and efficiency
// scores, then marks the session terminal. Idempotent; once finalized no
// ingest mutates the session and no further backend entities are created.
func (s *Session) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return
	}
	s.finalized = true
	s.currentTrace = ""

	rejections := int64(0)
	for _, d := range s.toolDecisions {
		if !d.Accepted() {
			rejections++
		}
	}

	summary := map[string]any{
		"conversationCount": s.conversationIndex,
		"apiCallCount":      s.apiCallCount,
		"toolCallCount":     s.toolResultCount,
		"totalCost":         s.totalCostUSD,
		"totalTokens":       s.tokens.Total(),
		"cacheTokens": map[string]any{
			"read":     s.tokens.CacheRead,
			"creation": s.tokens.CacheCreation,
		},
		"linesAdded":   s.linesAdded,
		"linesRemoved": s.linesRemoved,
		"additionalMetrics": map[string]any{
			"activeTime":       s.activeTimeSeconds,
			"commitCount":      s.commitCount,
			"pullRequestCount": s.prCount,
			"toolDecisions":    s.toolDecisions,
		},
	}

	handle := s.sink.Trace("session-summary", s.key, nil, summary, s.identityMetadata())

	quality, qualityComment := qualityScore(s.apiErrorCount, rejections)
	s.sink.Score(handle, "quality", quality, qualityComment)

	efficiency, efficiencyComment := efficiencyScore(s.tokens, s.totalCostUSD, s.apiCallCount)
	s.sink.Score(handle, "efficiency", efficiency, efficiencyComment)
}
