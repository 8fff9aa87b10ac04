// Package coursekey parses and builds course and course-run natural keys.
//
// A run key has the shape org+number+run, optionally prefixed with
// "course-v1:". The legacy org/number/run shape is also accepted. A run
// segment created by this service follows <trimester>T<year>[suffix].
package coursekey

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const v1Prefix = "course-v1:"

var runPattern = regexp.MustCompile(`^[123]T[0-9]{4}[a-z]?$`)

// RunKey is a parsed course-run key
type RunKey struct {
	Org    string
	Number string
	Run    string
}

// Parse splits a course-run key into its segments
func Parse(key string) (RunKey, error) {
	k := strings.TrimSpace(key)
	k = strings.TrimPrefix(k, v1Prefix)

	sep := "+"
	if !strings.Contains(k, "+") && strings.Count(k, "/") == 2 {
		sep = "/"
	}
	parts := strings.Split(k, sep)
	if len(parts) != 3 {
		return RunKey{}, fmt.Errorf("invalid course run key %q", key)
	}
	for _, p := range parts {
		if p == "" {
			return RunKey{}, fmt.Errorf("invalid course run key %q", key)
		}
	}
	return RunKey{Org: parts[0], Number: parts[1], Run: parts[2]}, nil
}

// CourseKey returns the org+number course key
func (k RunKey) CourseKey() string {
	return k.Org + "+" + k.Number
}

// String formats the key as org+number+run
func (k RunKey) String() string {
	return k.Org + "+" + k.Number + "+" + k.Run
}

// CourseKeyFromRun derives the course key of a run key by dropping the run segment
func CourseKeyFromRun(runKey string) (string, error) {
	k, err := Parse(runKey)
	if err != nil {
		return "", err
	}
	return k.CourseKey(), nil
}

// ParseCourseKey splits an org+number course key
func ParseCourseKey(key string) (org, number string, err error) {
	parts := strings.Split(strings.TrimSpace(key), "+")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid course key %q", key)
	}
	return parts[0], parts[1], nil
}

// ValidRun reports whether run follows the trimester grammar
func ValidRun(run string) bool {
	return runPattern.MatchString(run)
}

// Trimester returns ceil(month/4) for the given date
func Trimester(t time.Time) int {
	return (int(t.Month()) + 3) / 4
}

// ComputeRun returns the first unused run segment for a run starting at start.
// existing may hold run segments or full run keys.
func ComputeRun(start time.Time, existing []string) (string, error) {
	taken := make(map[string]bool, len(existing))
	for _, e := range existing {
		if i := strings.LastIndexAny(e, "+/"); i >= 0 {
			e = e[i+1:]
		}
		taken[e] = true
	}

	base := fmt.Sprintf("%dT%04d", Trimester(start), start.Year())
	if !taken[base] {
		return base, nil
	}
	for c := 'a'; c <= 'z'; c++ {
		candidate := base + string(c)
		if !taken[candidate] {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no run suffix left for %s", base)
}
