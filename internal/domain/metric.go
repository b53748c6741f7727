package domain

import "time"

// Metric names emitted by Claude Code.
const (
	MetricCostUsage        = "claude_code.cost.usage"
	MetricTokenUsage       = "claude_code.token.usage"
	MetricLinesOfCode      = "claude_code.lines_of_code.count"
	MetricCommitCount      = "claude_code.commit.count"
	MetricPRCount          = "claude_code.pr.count"
	MetricPullRequestCount = "claude_code.pull_request.count"
	MetricSessionCount     = "claude_code.session.count"
	MetricActiveTime       = "claude_code.active_time.total"
	MetricCodeEditDecision = "claude_code.code_edit_tool.decision"
)

// Sample is a single OTLP number datapoint with its metric name and decoded
// attributes.
type Sample struct {
	Name  string
	Time  time.Time
	Value float64
	Attrs Bag
}

// DecisionRecord is one entry of a session's tool decision log, fed by both
// the tool_decision log event and the code_edit_tool.decision metric.
type DecisionRecord struct {
	Tool     string    `json:"tool"`
	Decision string    `json:"decision"`
	Source   string    `json:"source,omitempty"`
	Language string    `json:"language,omitempty"`
	Count    float64   `json:"count,omitempty"`
	Time     time.Time `json:"timestamp"`
}

// Accepted reports whether the decision allowed the tool use.
func (d DecisionRecord) Accepted() bool { return d.Decision == "accept" }
