package domain

type Intent string

const (
	IntentRAG      Intent = "rag"
	IntentWeb      Intent = "web"
	IntentChitchat Intent = "chitchat"
)

// IntentResult is a classified intent with the classifier's declared
// confidence and a short human-readable reason for the trace.
type IntentResult struct {
	Label      Intent  `json:"label"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

type SafetyLevel string

const (
	SafetyLevelSafe    SafetyLevel = "safe"
	SafetyLevelWarning SafetyLevel = "warning"
	SafetyLevelBlocked SafetyLevel = "blocked"
)

type SafetyInfo struct {
	Blocked           bool        `json:"blocked"`
	Reason            string      `json:"reason,omitempty"`
	Level             SafetyLevel `json:"level,omitempty"`
	ConfidencePenalty float64     `json:"confidence_penalty,omitempty"`
	Flags             []string    `json:"flags,omitempty"`
	RiskScore         float64     `json:"risk_score"`
	FilteredChunkIDs  []string    `json:"filtered_chunk_ids,omitempty"`
	Redactions        int         `json:"redactions"`
	Error             string      `json:"error,omitempty"`
}

type Citation struct {
	ChunkID string `json:"chunk_id,omitempty"`
	Source  string `json:"source,omitempty"`
	Path    string `json:"path,omitempty"`
	Section string `json:"section,omitempty"`
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
}

// Synthesis strategies recorded in AnswerPayload.Mode.
const (
	AnswerModeMulti    = "multi"
	AnswerModeMerge    = "merge"
	AnswerModeChitchat = "chitchat"
	AnswerModeWeb      = "web"
)

// AnswerPayload is the final product of the pipeline. When Safety.Blocked is
// true, Answer holds the fixed refusal string and Citations is empty.
type AnswerPayload struct {
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations"`
	Confidence float64    `json:"confidence"`
	Safety     SafetyInfo `json:"safety"`
	Mode       string     `json:"mode,omitempty"`
	Rewrite    string     `json:"rewrite,omitempty"`
}

type WebResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}
