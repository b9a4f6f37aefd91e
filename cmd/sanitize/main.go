// Command sanitize cleans a JSON array of chat messages before it is sent to
// a model that accepts at most one tool call per assistant message.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nkhunters/tool-calls-sanitizer/internal/chat"
	"github.com/nkhunters/tool-calls-sanitizer/internal/config"
	"github.com/nkhunters/tool-calls-sanitizer/internal/sanitize"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	sc := cfg.Sanitizer()

	fs := flag.NewFlagSet("sanitize", flag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("in", "-", "input file with a JSON array of messages (- for stdin)")
	out := fs.String("out", "-", "output file (- for stdout)")
	window := fs.Int("window", sc.DeduplicationWindow, "deduplication window")
	noDedup := fs.Bool("no-dedup", !sc.DeduplicationEnabled, "disable deduplication")
	preserve := fs.Bool("preserve-failed", sc.PreserveFailedCalls, "keep failure summaries even after a successful retry")
	lenient := fs.Bool("lenient", !sc.StrictValidation, "accept non-object tool call arguments")
	report := fs.Bool("report", false, "write the run report to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level := slog.LevelWarn
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	messages, err := readMessages(*in, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "sanitize: %v\n", err)
		return 1
	}

	s := sanitize.New(sc,
		sanitize.WithWindow(*window),
		sanitize.WithDeduplication(!*noDedup),
		sanitize.WithPreserveFailedCalls(*preserve),
		sanitize.WithStrictValidation(!*lenient),
		sanitize.WithLogger(log),
	)
	sanitized, rep := s.SanitizeWithReport(messages)

	if err := chat.CheckSingleToolCall(sanitized); err != nil {
		fmt.Fprintf(stderr, "sanitize: %v\n", err)
		return 1
	}

	if err := writeMessages(*out, stdout, sanitized); err != nil {
		fmt.Fprintf(stderr, "sanitize: %v\n", err)
		return 1
	}

	if *report {
		enc := json.NewEncoder(stderr)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			fmt.Fprintf(stderr, "sanitize: writing report: %v\n", err)
			return 1
		}
	}
	return 0
}

func readMessages(path string, stdin io.Reader) ([]chat.Message, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		r = f
	}
	var messages []chat.Message
	if err := json.NewDecoder(r).Decode(&messages); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}
	return messages, nil
}

func writeMessages(path string, stdout io.Writer, messages []chat.Message) error {
	if path == "-" {
		return encodeMessages(stdout, messages)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	return writeAndClose(f, messages)
}

// writeAndClose encodes messages to w and reports a failed Close.
func writeAndClose(w io.WriteCloser, messages []chat.Message) error {
	if err := encodeMessages(w, messages); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing output: %w", err)
	}
	return nil
}

func encodeMessages(w io.Writer, messages []chat.Message) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(messages); err != nil {
		return fmt.Errorf("encoding messages: %w", err)
	}
	return nil
}
