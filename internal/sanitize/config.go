package sanitize

import (
	"fmt"
	"log/slog"
	"maps"
)

const (
	defaultWindow           = 3
	defaultMaxContextLength = 4000

	// DefaultTemplateKey names the template used for functions without their own entry.
	DefaultTemplateKey = "default"
	// NoCountSuffix marks the variant of a {count} template used when the
	// tool response is not JSON, e.g. "execute_cql_search:nocount".
	NoCountSuffix = ":nocount"
)

// RetryScope controls where a successful retry of a failed tool call may be found.
type RetryScope string

const (
	// RetryScopeBatch only considers calls issued in the same assistant message.
	RetryScopeBatch RetryScope = "batch"
	// RetryScopeConversation also considers calls issued by later assistant messages.
	RetryScopeConversation RetryScope = "conversation"
)

// ParseRetryScope converts a configuration string into a RetryScope.
func ParseRetryScope(s string) (RetryScope, error) {
	switch RetryScope(s) {
	case RetryScopeBatch, RetryScopeConversation:
		return RetryScope(s), nil
	case "":
		return RetryScopeConversation, nil
	default:
		return "", fmt.Errorf("unknown retry scope %q (want batch or conversation)", s)
	}
}

// DefaultTemplates returns a fresh copy of the built-in summary templates.
func DefaultTemplates() map[string]string {
	return map[string]string{
		"execute_cql_search":                 `Searched Confluence for "{cql}" and found {count} result(s)`,
		"execute_cql_search" + NoCountSuffix: `Successfully executed Confluence search for "{cql}"`,
		"get_page_content":                   "Retrieved content from page: {url}",
		"web_search":                         "Performed web search for: {query}",
		DefaultTemplateKey:                   "Successfully executed {functionName} with {args}",
	}
}

// Config holds the settings read by every pipeline stage. A Sanitizer takes
// its own copy, so a Config may be reused across goroutines.
type Config struct {
	DeduplicationEnabled bool
	DeduplicationWindow  int

	// PreserveFailedCalls keeps "Failed to execute" summaries even when a
	// successful retry of the same call exists.
	PreserveFailedCalls bool

	// StrictValidation requires tool-call arguments to be JSON objects and
	// drops tool messages that carry no tool_call_id.
	StrictValidation bool

	// SummaryTemplates maps function names to summary templates. The
	// "default" entry applies to every other function.
	SummaryTemplates map[string]string

	// MaxContextLength and DebugMode are carried for callers of the pipeline;
	// the pipeline itself does not read them.
	MaxContextLength int
	DebugMode        bool

	RetryScope RetryScope
	Classifier Classifier
	Comparator Comparator

	Logger *slog.Logger
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		DeduplicationEnabled: true,
		DeduplicationWindow:  defaultWindow,
		PreserveFailedCalls:  false,
		StrictValidation:     true,
		SummaryTemplates:     DefaultTemplates(),
		MaxContextLength:     defaultMaxContextLength,
		RetryScope:           RetryScopeConversation,
		Classifier:           ErrorSubstringClassifier,
		Comparator:           LooseComparator,
	}
}

// Option adjusts a Config.
type Option func(*Config)

func WithDeduplication(enabled bool) Option {
	return func(c *Config) { c.DeduplicationEnabled = enabled }
}

func WithWindow(n int) Option {
	return func(c *Config) { c.DeduplicationWindow = n }
}

func WithPreserveFailedCalls(preserve bool) Option {
	return func(c *Config) { c.PreserveFailedCalls = preserve }
}

func WithStrictValidation(strict bool) Option {
	return func(c *Config) { c.StrictValidation = strict }
}

// WithTemplates merges templates over the current set.
func WithTemplates(templates map[string]string) Option {
	return func(c *Config) {
		merged := make(map[string]string, len(c.SummaryTemplates)+len(templates))
		maps.Copy(merged, c.SummaryTemplates)
		maps.Copy(merged, templates)
		c.SummaryTemplates = merged
	}
}

func WithRetryScope(scope RetryScope) Option {
	return func(c *Config) { c.RetryScope = scope }
}

func WithClassifier(fn Classifier) Option {
	return func(c *Config) { c.Classifier = fn }
}

func WithComparator(fn Comparator) Option {
	return func(c *Config) { c.Comparator = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// normalized fills zero-valued hooks and detaches the template map from the caller.
func (c Config) normalized() Config {
	out := c
	out.SummaryTemplates = make(map[string]string, len(c.SummaryTemplates)+1)
	maps.Copy(out.SummaryTemplates, c.SummaryTemplates)
	if _, ok := out.SummaryTemplates[DefaultTemplateKey]; !ok {
		out.SummaryTemplates[DefaultTemplateKey] = DefaultTemplates()[DefaultTemplateKey]
	}
	if out.RetryScope == "" {
		out.RetryScope = RetryScopeConversation
	}
	if out.Classifier == nil {
		out.Classifier = ErrorSubstringClassifier
	}
	if out.Comparator == nil {
		out.Comparator = LooseComparator
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

func (c Config) template(functionName string) string {
	if t, ok := c.SummaryTemplates[functionName]; ok {
		return t
	}
	return c.SummaryTemplates[DefaultTemplateKey]
}

func (c Config) noCountTemplate(functionName string) string {
	if t, ok := c.SummaryTemplates[functionName+NoCountSuffix]; ok {
		return t
	}
	return c.SummaryTemplates[DefaultTemplateKey]
}
