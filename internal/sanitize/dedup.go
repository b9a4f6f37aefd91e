package sanitize

import (
	"crypto/md5"
	"encoding/json"

	"github.com/nkhunters/tool-calls-sanitizer/internal/chat"
)

type fingerprint [md5.Size]byte

// fingerprintOf digests the fields that make two messages interchangeable.
// Name is deliberately left out.
func fingerprintOf(m chat.Message) fingerprint {
	calls := m.ToolCalls
	if calls == nil {
		calls = []chat.ToolCall{}
	}
	data, _ := json.Marshal(struct {
		Role       string          `json:"role"`
		Content    string          `json:"content"`
		ToolCalls  []chat.ToolCall `json:"tool_calls"`
		ToolCallID string          `json:"tool_call_id,omitempty"`
	}{m.Role, m.Content, calls, m.ToolCallID})
	return md5.Sum(data)
}

// recent is a fixed-size ring of the last accepted fingerprints.
type recent struct {
	buf  []fingerprint
	next int
	full bool
}

func newRecent(size int) *recent {
	return &recent{buf: make([]fingerprint, size)}
}

func (r *recent) contains(f fingerprint) bool {
	n := r.next
	if r.full {
		n = len(r.buf)
	}
	for i := 0; i < n; i++ {
		if r.buf[i] == f {
			return true
		}
	}
	return false
}

func (r *recent) add(f fingerprint) {
	r.buf[r.next] = f
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// dedupe drops messages whose fingerprint matches one of the last window
// accepted messages. The first occurrence wins.
func (s *Sanitizer) dedupe(messages []chat.Message, rep *Report) []chat.Message {
	window := s.cfg.DeduplicationWindow
	if !s.cfg.DeduplicationEnabled || window <= 0 || len(messages) <= 1 {
		return messages
	}

	// Only accepted messages enter the ring, so it never needs more slots
	// than there are messages.
	seen := newRecent(min(window, len(messages)))
	out := make([]chat.Message, 0, len(messages))
	for i, m := range messages {
		f := fingerprintOf(m)
		if seen.contains(f) {
			s.log.Debug("sanitize: dropping duplicate message", "index", i, "role", m.Role)
			rep.Deduplicated++
			continue
		}
		seen.add(f)
		out = append(out, m)
	}
	return out
}
