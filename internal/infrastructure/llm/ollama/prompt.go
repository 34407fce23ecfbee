package ollama

import (
	"strings"
)

func buildIntentPrompt(question string) string {
	const maxSnippet = 2000
	q := question
	if len(q) > maxSnippet {
		q = q[:maxSnippet]
	}

	return `You route user questions for a legal question-answering service.
Return strict JSON object with keys:
label (one of "rag", "web", "chitchat"), confidence (number from 0 to 1), reason (string).
Use "rag" when the internal legal corpus can answer, "web" when fresh external information is required, "chitchat" for smalltalk.
No markdown, no extra keys.

Question:
` + q
}

func buildGeneratePrompt(prompt string, contexts []string) string {
	if len(contexts) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString("Context:\n\n")
	for _, block := range contexts {
		b.WriteString(block)
		b.WriteString("\n\n")
	}
	b.WriteString(prompt)
	return b.String()
}
