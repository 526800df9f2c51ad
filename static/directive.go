package static

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	cacheControlVocabulary = map[string]struct{}{
		"must-revalidate": {},
		"no-cache":        {},
		"no-store":        {},
		"no-transform":    {},
		"public":          {},
		"private":         {},
	}
	maxAgeDirective = regexp.MustCompile(`^max-age=\d+$`)
)

// CompilePattern compiles a path matching rule. Both bare Go expressions
// (`\.css$`) and delimited expressions with trailing flags (`/\.css$/i`)
// are accepted; the i, m and s flags are honored.
func CompilePattern(expr string) (*regexp.Regexp, error) {
	src := expr
	if len(expr) >= 2 && expr[0] == '/' {
		if end := strings.LastIndexByte(expr, '/'); end > 0 {
			flags := expr[end+1:]
			if strings.Trim(flags, "ims") == "" {
				src = expr[1:end]
				if flags != "" {
					src = "(?" + flags + ")" + src
				}
			}
		}
	}

	re, err := regexp.Compile(src)
	if err != nil {
		return nil, &ConfigError{Setting: "pattern", Value: expr, Err: fmt.Errorf("%w: %v", ErrInvalidPattern, err)}
	}
	return re, nil
}

// ValidateCacheControl reports whether directive is one of must-revalidate,
// no-cache, no-store, no-transform, public, private or max-age=N.
func ValidateCacheControl(directive string) error {
	if _, ok := cacheControlVocabulary[directive]; ok {
		return nil
	}
	if maxAgeDirective.MatchString(directive) {
		return nil
	}
	return &ConfigError{Setting: "cache_control", Value: directive, Err: ErrInvalidDirective}
}

// DirectiveConfig is one configured path rule. Nil flags leave the
// corresponding stage untouched for matching paths.
type DirectiveConfig struct {
	Pattern      string
	CacheControl []string
	LastModified *bool
	ETag         *bool
}

// CacheControlRule maps a path pattern to a Cache-Control directive list.
type CacheControlRule struct {
	Pattern    *regexp.Regexp
	Directives []string
}

// BoolRule enables or disables a stage for matching paths.
type BoolRule struct {
	Pattern *regexp.Regexp
	Enabled bool
}

// Rules are the compiled directive tables, in declaration order.
type Rules struct {
	CacheControl []CacheControlRule
	LastModified []BoolRule
	ETag         []BoolRule
}

// CompileRules validates and compiles entries. Every pattern must compile
// and every Cache-Control directive must be valid.
func CompileRules(entries []DirectiveConfig) (Rules, error) {
	var rules Rules
	for _, entry := range entries {
		re, err := CompilePattern(entry.Pattern)
		if err != nil {
			return Rules{}, err
		}

		if len(entry.CacheControl) > 0 {
			directives := make([]string, 0, len(entry.CacheControl))
			for _, d := range entry.CacheControl {
				d = strings.TrimSpace(d)
				if err := ValidateCacheControl(d); err != nil {
					return Rules{}, err
				}
				directives = append(directives, d)
			}
			rules.CacheControl = append(rules.CacheControl, CacheControlRule{Pattern: re, Directives: directives})
		}
		if entry.LastModified != nil {
			rules.LastModified = append(rules.LastModified, BoolRule{Pattern: re, Enabled: *entry.LastModified})
		}
		if entry.ETag != nil {
			rules.ETag = append(rules.ETag, BoolRule{Pattern: re, Enabled: *entry.ETag})
		}
	}
	return rules, nil
}

// matchBool returns the flag of the first rule matching path.
func matchBool(rules []BoolRule, path string) bool {
	for _, rule := range rules {
		if rule.Pattern.MatchString(path) {
			return rule.Enabled
		}
	}
	return false
}
