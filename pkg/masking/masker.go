// Package masking redacts credentials and other sensitive values from tool
// results before they are retained in the scratchpad or shown to the LLM.
// Masking is regex-based and fail-safe: a pattern that does not compile is
// skipped, never silently disabled for the rest of the set.
package masking

import (
	"log/slog"
	"regexp"
	"sort"
)

// Pattern is one named masking rule.
type Pattern struct {
	Name        string
	Pattern     string
	Replacement string
	Description string
}

// compiledPattern holds a pre-compiled rule.
type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// builtinPatterns covers the credential shapes commonly found in
// infrastructure tool output.
func builtinPatterns() []Pattern {
	return []Pattern{
		{
			Name:        "api_key",
			Pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
			Replacement: `"api_key": "__MASKED_API_KEY__"`,
			Description: "API keys in key/value form",
		},
		{
			Name:        "password",
			Pattern:     `(?i)(?:password|pwd|passwd)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
			Replacement: `"password": "__MASKED_PASSWORD__"`,
			Description: "Passwords in key/value form",
		},
		{
			Name:        "token",
			Pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`,
			Replacement: `"token": "__MASKED_TOKEN__"`,
			Description: "Bearer and API tokens",
		},
		{
			Name:        "secret_key",
			Pattern:     `(?i)(?:secret[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`,
			Replacement: `"secret_key": "__MASKED_SECRET_KEY__"`,
			Description: "Generic secret keys",
		},
		{
			Name:        "certificate",
			Pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			Replacement: `__MASKED_CERTIFICATE__`,
			Description: "PEM certificates and private keys",
		},
		{
			Name:        "ssh_key",
			Pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
			Replacement: `__MASKED_SSH_KEY__`,
			Description: "SSH public keys",
		},
		{
			Name:        "aws_access_key",
			Pattern:     `\bAKIA[A-Z0-9]{16}\b`,
			Replacement: `__MASKED_AWS_KEY__`,
			Description: "AWS access key ids",
		},
		{
			Name:        "aws_secret_key",
			Pattern:     `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`,
			Replacement: `"aws_secret_access_key": "__MASKED_AWS_SECRET__"`,
			Description: "AWS secret access keys",
		},
		{
			Name:        "github_token",
			Pattern:     `\bgh[ps]_[A-Za-z0-9_]{36,255}\b`,
			Replacement: `__MASKED_GITHUB_TOKEN__`,
			Description: "GitHub personal access tokens",
		},
		{
			Name:        "slack_token",
			Pattern:     `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`,
			Replacement: `__MASKED_SLACK_TOKEN__`,
			Description: "Slack tokens",
		},
		{
			Name:        "email",
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
			Replacement: `__MASKED_EMAIL__`,
			Description: "Email addresses",
		},
	}
}

// Masker applies a fixed set of compiled rules in deterministic order.
type Masker struct {
	patterns []compiledPattern
}

// Option configures a Masker.
type Option func(*builder)

type builder struct {
	builtins bool
	custom   []Pattern
	exclude  map[string]bool
}

// WithoutBuiltins drops the built-in rule set; only custom patterns apply.
func WithoutBuiltins() Option {
	return func(b *builder) { b.builtins = false }
}

// WithPatterns appends custom rules after the built-ins.
func WithPatterns(patterns ...Pattern) Option {
	return func(b *builder) { b.custom = append(b.custom, patterns...) }
}

// WithoutPattern disables a built-in rule by name.
func WithoutPattern(names ...string) Option {
	return func(b *builder) {
		for _, n := range names {
			b.exclude[n] = true
		}
	}
}

// New compiles a masker. Rules that fail to compile are logged and
// skipped. Built-in rules apply in name order, custom rules after them in
// declaration order.
func New(opts ...Option) *Masker {
	b := &builder{builtins: true, exclude: make(map[string]bool)}
	for _, opt := range opts {
		opt(b)
	}

	var raw []Pattern
	if b.builtins {
		builtin := builtinPatterns()
		sort.Slice(builtin, func(i, j int) bool { return builtin[i].Name < builtin[j].Name })
		for _, p := range builtin {
			if !b.exclude[p.Name] {
				raw = append(raw, p)
			}
		}
	}
	raw = append(raw, b.custom...)

	m := &Masker{}
	for _, p := range raw {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("Skipping masking pattern that does not compile",
				"pattern", p.Name, "error", err)
			continue
		}
		m.patterns = append(m.patterns, compiledPattern{
			name:        p.Name,
			regex:       regex,
			replacement: p.Replacement,
		})
	}
	return m
}

// Mask applies every rule to content and returns the redacted text.
func (m *Masker) Mask(content string) string {
	for _, p := range m.patterns {
		content = p.regex.ReplaceAllString(content, p.replacement)
	}
	return content
}

// PatternNames returns the active rule names in application order.
func (m *Masker) PatternNames() []string {
	names := make([]string, 0, len(m.patterns))
	for _, p := range m.patterns {
		names = append(names, p.name)
	}
	return names
}
