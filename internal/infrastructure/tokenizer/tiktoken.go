package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// Counter counts model tokens with a tiktoken BPE encoding. The synthesis
// pipeline uses it to trim context blocks to the prompt budget.
type Counter struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

// New loads the named tiktoken encoding. An empty name selects cl100k_base,
// which matches both the local and the OpenAI embedding models we run.
func New(encoding string) (*Counter, error) {
	if encoding == "" {
		encoding = defaultEncoding
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", encoding, err)
	}

	return &Counter{encoding: encoding, enc: enc}, nil
}

// Encoding returns the encoding name the counter was built with.
func (c *Counter) Encoding() string {
	return c.encoding
}

// CountTokens returns the number of BPE tokens in text.
func (c *Counter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}
