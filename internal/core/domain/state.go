package domain

import "time"

// AskOptions carries the per-request knobs of one ask. Zero values mean
// "use the configured default".
type AskOptions struct {
	Mode    string `json:"mode,omitempty"`
	TopKCtx int    `json:"top_k_ctx,omitempty"`
}

// TraceEvent records what one orchestration stage did. The trace is
// diagnostics only: stages append entries but must never branch on them.
type TraceEvent struct {
	Node   string         `json:"node"`
	Detail map[string]any `json:"detail,omitempty"`
}

// AgentState is the mutable record threaded through the orchestration graph.
// One state is created per incoming question, mutated in place by each stage,
// and discarded once the terminal stage returns Best. No component keeps a
// reference past the request.
type AgentState struct {
	RequestID  string          `json:"request_id"`
	Question   string          `json:"question"`
	Intent     Intent          `json:"intent,omitempty"`
	Rewrites   []string        `json:"rewrites,omitempty"`
	Answers    []AnswerPayload `json:"answers,omitempty"`
	Best       *AnswerPayload  `json:"best,omitempty"`
	WebResults []WebResult     `json:"web_results,omitempty"`
	Trace      []TraceEvent    `json:"trace"`
	StartedAt  time.Time       `json:"-"`
}

func NewAgentState(requestID, question string) *AgentState {
	return &AgentState{
		RequestID: requestID,
		Question:  question,
		StartedAt: time.Now().UTC(),
	}
}

// AppendTrace adds one append-only trace entry.
func (s *AgentState) AppendTrace(node string, detail map[string]any) {
	s.Trace = append(s.Trace, TraceEvent{Node: node, Detail: detail})
}
