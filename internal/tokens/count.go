package tokens

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/nkhunters/tool-calls-sanitizer/internal/chat"
)

const (
	// per-message overhead: <|start|>role<|sep|>...<|end|>
	messageOverhead = 4
	// per-call overhead for id, type and function wrapper
	toolCallOverhead = 3
	// every reply is primed with <|start|>assistant<|message|>
	replyPriming = 3
)

// Counter estimates the prompt size of chat messages with a BPE encoder.
type Counter struct {
	once sync.Once
	enc  tokenizer.Codec
	err  error
}

// NewCounter returns a Counter; the encoder is loaded on first use.
func NewCounter() *Counter {
	return &Counter{}
}

func (c *Counter) codec() (tokenizer.Codec, error) {
	c.once.Do(func() {
		c.enc, c.err = tokenizer.Get(tokenizer.O200kBase)
		if c.err != nil {
			c.enc, c.err = tokenizer.Get(tokenizer.Cl100kBase)
		}
		if c.err != nil {
			c.err = fmt.Errorf("loading tokenizer: %w", c.err)
		}
	})
	return c.enc, c.err
}

// Text returns the number of tokens in s.
func (c *Counter) Text(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	enc, err := c.codec()
	if err != nil {
		return 0, err
	}
	ids, _, err := enc.Encode(s)
	if err != nil {
		return 0, fmt.Errorf("encoding text: %w", err)
	}
	return len(ids), nil
}

// Message estimates the tokens one message contributes to a prompt.
func (c *Counter) Message(m chat.Message) (int, error) {
	total := messageOverhead
	parts := []string{m.Role, m.Content, m.Name, m.ToolCallID}
	for _, tc := range m.ToolCalls {
		parts = append(parts, tc.Function.Name, tc.Function.Arguments)
		total += toolCallOverhead
	}
	for _, p := range parts {
		n, err := c.Text(p)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Messages estimates the prompt size of a full message list.
func (c *Counter) Messages(messages []chat.Message) (int, error) {
	total := replyPriming
	for _, m := range messages {
		n, err := c.Message(m)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Budget compares a message list before and after sanitizing against a limit.
type Budget struct {
	Before           int  `json:"before"`
	After            int  `json:"after"`
	MaxContextLength int  `json:"max_context_length"`
	OverBudget       bool `json:"over_budget"`
}

// Measure fills a Budget. A non-positive limit disables the over-budget check.
func (c *Counter) Measure(before, after []chat.Message, limit int) (Budget, error) {
	b := Budget{MaxContextLength: limit}
	var err error
	if b.Before, err = c.Messages(before); err != nil {
		return Budget{}, err
	}
	if b.After, err = c.Messages(after); err != nil {
		return Budget{}, err
	}
	b.OverBudget = limit > 0 && b.After > limit
	return b, nil
}
