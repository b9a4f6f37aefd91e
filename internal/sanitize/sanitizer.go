// Package sanitize rewrites chat transcripts for inference backends that
// accept at most one pending tool call per assistant turn.
//
// Sanitize runs four stages over a message list: cleaning, windowed
// deduplication, tool-call completion analysis, and transformation of
// completed calls into summaries. It never fails; if a stage panics the
// cleaned list is returned instead.
package sanitize

import (
	"fmt"
	"log/slog"

	"github.com/nkhunters/tool-calls-sanitizer/internal/chat"
)

// Report counts what each stage did during one run.
type Report struct {
	Input  int `json:"input"`
	Output int `json:"output"`

	DroppedMessages   int `json:"dropped_messages"`
	DroppedToolCalls  int `json:"dropped_tool_calls"`
	RepairedArguments int `json:"repaired_arguments"`
	Deduplicated      int `json:"deduplicated"`

	SummarizedCalls    int `json:"summarized_calls"`
	SuppressedFailures int `json:"suppressed_failures"`
	CollapsedCalls     int `json:"collapsed_calls"`
	OrphanedResponses  int `json:"orphaned_responses"`

	// Fallback is set when the pipeline failed and only cleaning was applied.
	Fallback bool `json:"fallback"`
}

// Sanitizer applies the pipeline with a fixed configuration. It holds no
// mutable state and is safe for concurrent use.
type Sanitizer struct {
	cfg Config
	log *slog.Logger
}

// New returns a Sanitizer for cfg with opts applied on top.
func New(cfg Config, opts ...Option) *Sanitizer {
	for _, o := range opts {
		o(&cfg)
	}
	cfg = cfg.normalized()
	return &Sanitizer{cfg: cfg, log: cfg.Logger}
}

// Config returns a copy of the configuration in use.
func (s *Sanitizer) Config() Config {
	return s.cfg.normalized()
}

// Sanitize is shorthand for New(DefaultConfig(), opts...).Sanitize(messages).
func Sanitize(messages []chat.Message, opts ...Option) []chat.Message {
	return New(DefaultConfig(), opts...).Sanitize(messages)
}

// Sanitize returns the sanitized form of messages. The input is not modified.
func (s *Sanitizer) Sanitize(messages []chat.Message) []chat.Message {
	out, _ := s.SanitizeWithReport(messages)
	return out
}

// SanitizeWithReport is Sanitize plus per-stage counters.
func (s *Sanitizer) SanitizeWithReport(messages []chat.Message) ([]chat.Message, Report) {
	rep := Report{Input: len(messages)}

	out, err := s.run(messages, &rep)
	if err != nil {
		s.log.Error("sanitize: pipeline failed, returning cleaned messages", "err", err)
		rep = Report{Input: len(messages), Fallback: true}
		out = s.safeClean(messages, &rep)
	}

	rep.Output = len(out)
	return out, rep
}

func (s *Sanitizer) run(messages []chat.Message, rep *Report) (out []chat.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	cleaned := s.clean(messages, rep)
	deduped := s.dedupe(cleaned, rep)
	analysis := Analyze(deduped, s.cfg.Classifier)
	transformed := s.transform(deduped, analysis, rep)

	// Folding tool responses away can bring equal messages inside the
	// window; a second pass makes the result a fixed point.
	return s.dedupe(transformed, rep), nil
}

// safeClean runs only the cleaning stage and yields an empty list if even that fails.
func (s *Sanitizer) safeClean(messages []chat.Message, rep *Report) (out []chat.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("sanitize: cleaning failed", "panic", r)
			out = []chat.Message{}
		}
	}()
	return s.clean(messages, rep)
}
