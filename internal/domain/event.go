package domain

import "time"

// Log record bodies emitted by Claude Code.
const (
	BodyUserPrompt   = "claude_code.user_prompt"
	BodyAPIRequest   = "claude_code.api_request"
	BodyAPIError     = "claude_code.api_error"
	BodyToolResult   = "claude_code.tool_result"
	BodyToolDecision = "claude_code.tool_decision"
)

// Event is a normalized client log record.
type Event interface {
	// When is the effective record timestamp.
	When() time.Time
}

// UserPrompt opens a new conversation.
type UserPrompt struct {
	Time         time.Time
	Prompt       string
	PromptLength int64
}

func (e UserPrompt) When() time.Time { return e.Time }

// APIRequest is a single model invocation.
type APIRequest struct {
	Time                time.Time
	Model               string
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
	CostUSD             float64
	DurationMS          int64
	RequestID           string
	HasCost             bool
}

func (e APIRequest) When() time.Time { return e.Time }

// APIError is a failed model invocation.
type APIError struct {
	Time       time.Time
	Model      string
	Message    string
	StatusCode int64
	RequestID  string
}

func (e APIError) When() time.Time { return e.Time }

// ToolResult is a completed tool execution.
type ToolResult struct {
	Time       time.Time
	ToolName   string
	Success    bool
	DurationMS int64
}

func (e ToolResult) When() time.Time { return e.Time }

// ToolDecision is a permission decision on a tool use.
type ToolDecision struct {
	Time     time.Time
	ToolName string
	Decision string
	Source   string
}

func (e ToolDecision) When() time.Time { return e.Time }

// ParseEvent classifies a log record body and extracts the event's attributes
// from the bag. Missing attributes take their documented defaults. Returns
// false for bodies this bridge does not recognize.
func ParseEvent(body string, ts time.Time, bag Bag) (Event, bool) {
	switch body {
	case BodyUserPrompt:
		return UserPrompt{
			Time:         ts,
			Prompt:       bag.StringOr("prompt", ""),
			PromptLength: bag.Int("prompt_length"),
		}, true
	case BodyAPIRequest:
		return APIRequest{
			Time:                ts,
			Model:               bag.String("model"),
			InputTokens:         bag.Int("input_tokens"),
			OutputTokens:        bag.Int("output_tokens"),
			CacheReadTokens:     bag.Int("cache_read_tokens"),
			CacheCreationTokens: bag.Int("cache_creation_tokens"),
			CostUSD:             bag.Float("cost_usd"),
			DurationMS:          bag.Int("duration_ms"),
			RequestID:           bag.StringOr("request_id", ""),
			HasCost:             bag.Has("cost_usd"),
		}, true
	case BodyAPIError:
		return APIError{
			Time:       ts,
			Model:      bag.String("model"),
			Message:    bag.String("error_message"),
			StatusCode: bag.Int("status_code"),
			RequestID:  bag.StringOr("request_id", ""),
		}, true
	case BodyToolResult:
		return ToolResult{
			Time:       ts,
			ToolName:   bag.String("tool_name"),
			Success:    bag.Bool("success"),
			DurationMS: bag.Int("duration_ms"),
		}, true
	case BodyToolDecision:
		return ToolDecision{
			Time:     ts,
			ToolName: bag.String("tool_name"),
			Decision: bag.String("decision"),
			Source:   bag.String("source"),
		}, true
	default:
		return nil, false
	}
}
