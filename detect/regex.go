package detect

import (
	"errors"
	"fmt"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRegexTimeout bounds pattern matching time. regexp2 enforces the
// timeout during backtracking, which protects against ReDoS from hostile or
// malformed rule patterns.
const DefaultRegexTimeout = 500 * time.Millisecond

// patternCacheSize bounds the compiled pattern cache.
const patternCacheSize = 256

// ErrRegexTimeout is returned when pattern matching exceeds the timeout.
var ErrRegexTimeout = errors.New("regex evaluation timeout")

// PatternMatcher compiles and caches case-insensitive regular expressions with
// a match timeout. Safe for concurrent use.
type PatternMatcher struct {
	cache   *lru.Cache[string, *regexp2.Regexp]
	timeout time.Duration
}

// NewPatternMatcher creates a matcher with the given match timeout
// (DefaultRegexTimeout if zero).
func NewPatternMatcher(timeout time.Duration) (*PatternMatcher, error) {
	if timeout <= 0 {
		timeout = DefaultRegexTimeout
	}
	cache, err := lru.New[string, *regexp2.Regexp](patternCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}
	return &PatternMatcher{
		cache:   cache,
		timeout: timeout,
	}, nil
}

// Match reports whether input matches pattern (case-insensitive). The compiled
// pattern is cached for reuse across evaluations.
func (pm *PatternMatcher) Match(pattern, input string) (bool, error) {
	if pattern == "" {
		return false, fmt.Errorf("regex pattern cannot be empty")
	}

	re, ok := pm.cache.Get(pattern)
	if !ok {
		var err error
		re, err = regexp2.Compile(pattern, regexp2.IgnoreCase)
		if err != nil {
			return false, fmt.Errorf("failed to compile regex pattern: %w", err)
		}
		re.MatchTimeout = pm.timeout
		pm.cache.Add(pattern, re)
	}

	matched, err := re.MatchString(input)
	if err != nil {
		// regexp2 reports timeout as an error.
		return false, fmt.Errorf("%w: %v", ErrRegexTimeout, err)
	}
	return matched, nil
}
