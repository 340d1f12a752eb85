// Package sanitize redacts secrets from externally supplied text before it
// is persisted, embedded in prompts, or displayed. Redaction replaces the
// match with a class marker so repeated application is a no-op.
package sanitize

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/boshu2/cassmem/internal/coreerr"
)

// maxExtraPatternLength bounds user-supplied patterns before the nested
// quantifier check runs.
const maxExtraPatternLength = 256

// nestedQuantifier flags patterns like (a+)+ that can blow up matching time.
var nestedQuantifier = regexp.MustCompile(`\([^)]*[*+][^)]*\)[*+?]`)

type pattern struct {
	class string
	re    *regexp.Regexp
}

// Built-in secret classes. Replacement markers never capture any part of
// the secret, which is what makes Sanitize idempotent.
var builtins = []pattern{
	{"aws-key", regexp.MustCompile(`\b(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`)},
	{"aws-secret", regexp.MustCompile(`(?i)aws[_-]?secret[_-]?(access[_-]?)?key['"]?\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}`)},
	{"github-token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,255}\b`)},
	{"gitlab-token", regexp.MustCompile(`\bglpat-[A-Za-z0-9_-]{20,}\b`)},
	{"slack-token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`)},
	{"bearer-token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_.~+/-]{20,}=*`)},
	{"api-key", regexp.MustCompile(`(?i)\b(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token)['"]?\s*[:=]\s*['"]?[A-Za-z0-9_-]{16,}`)},
	{"private-key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)},
	{"db-url", regexp.MustCompile(`\b(postgres(ql)?|mysql|mongodb(\+srv)?|redis|amqp)://[^\s:@/]+:[^\s@/]+@[^\s]+`)},
}

// Sanitizer applies the built-in classes plus validated extra patterns.
type Sanitizer struct {
	patterns   []pattern
	auditLog   bool
	auditDebug bool
	logger     *zap.Logger
}

// Options configures a Sanitizer.
type Options struct {
	ExtraPatterns []string
	AuditLog      bool
	AuditLevel    string // "info" or "debug"
}

// New builds a sanitizer. Extra patterns that fail the complexity guard or
// do not compile are skipped with a warning.
func New(opts Options, logger *zap.Logger) *Sanitizer {
	s := &Sanitizer{
		patterns:   builtins,
		auditLog:   opts.AuditLog,
		auditDebug: opts.AuditLevel == "debug",
		logger:     logger,
	}

	for i, raw := range opts.ExtraPatterns {
		if err := CheckPattern(raw); err != nil {
			logger.Warn("extra sanitization pattern skipped",
				zap.Int("index", i), zap.Error(err))
			continue
		}
		re, err := regexp.Compile(raw)
		if err != nil {
			logger.Warn("extra sanitization pattern invalid",
				zap.Int("index", i), zap.Error(err))
			continue
		}
		s.patterns = append(s.patterns, pattern{
			class: fmt.Sprintf("custom-%d", i),
			re:    re,
		})
	}

	return s
}

// CheckPattern rejects patterns that could stall the matcher.
func CheckPattern(raw string) error {
	if len(raw) > maxExtraPatternLength {
		return coreerr.New(coreerr.CodeInvalidPattern,
			"pattern longer than %d characters", maxExtraPatternLength)
	}
	if nestedQuantifier.MatchString(raw) {
		return coreerr.New(coreerr.CodeInvalidPattern, "nested quantifiers rejected")
	}
	return nil
}

// Sanitize redacts every recognized secret in s. Applying Sanitize to its
// own output returns the output unchanged.
func (sz *Sanitizer) Sanitize(s string) string {
	counts := make(map[string]int)
	for _, p := range sz.patterns {
		marker := "[REDACTED:" + p.class + "]"
		out := p.re.ReplaceAllString(s, marker)
		if out != s {
			counts[p.class] += len(p.re.FindAllString(s, -1))
			s = out
		}
	}

	if sz.auditLog && len(counts) > 0 {
		fields := make([]zap.Field, 0, len(counts))
		for class, n := range counts {
			fields = append(fields, zap.Int(class, n))
		}
		if sz.auditDebug {
			sz.logger.Debug("redacted secrets", fields...)
		} else {
			sz.logger.Info("redacted secrets", fields...)
		}
	}

	return s
}
