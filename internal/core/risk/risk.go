// Package risk classifies API methods by risk tier and gates them against a
// glob-style method allowlist assembled from capability packs.
package risk

import (
	"path"
	"regexp"
	"strings"
)

// Level is the risk tier of one method call.
type Level string

const (
	Read        Level = "read"
	Write       Level = "write"
	Destructive Level = "destructive"
)

var levelRank = map[Level]int{Read: 0, Write: 1, Destructive: 2}

// Max returns the higher of two risk levels.
func Max(a, b Level) Level {
	if levelRank[b] > levelRank[a] {
		return b
	}
	return a
}

var (
	writeRE       = regexp.MustCompile(`(?:^|\.)(add|update|set|register|bind|import|complete|start|stop|move|clear)$`)
	destructiveRE = regexp.MustCompile(`(?:^|\.)(delete|remove|recyclebin|unregister|unbind)$`)
)

// BatchCommandMethod extracts the method name from a batch command string of
// the form "method?param=value".
func BatchCommandMethod(command string) string {
	method, _, _ := strings.Cut(command, "?")
	return strings.ToLower(strings.TrimSpace(method))
}

// Classify returns the risk tier of a method by suffix pattern. The batch
// method aggregates to the maximum risk across its sub-commands.
func Classify(method string, params map[string]any) Level {
	m := strings.ToLower(method)
	if m == "batch" {
		level := Read
		if cmd, ok := params["cmd"].(map[string]any); ok {
			for _, v := range cmd {
				command, ok := v.(string)
				if !ok {
					continue
				}
				level = Max(level, Classify(BatchCommandMethod(command), nil))
			}
		}
		return level
	}

	if destructiveRE.MatchString(m) {
		return Destructive
	}
	if writeRE.MatchString(m) {
		return Write
	}
	return Read
}

// IsAllowed reports whether method matches any allowlist pattern. Patterns
// use glob syntax and match case-insensitively.
func IsAllowed(method string, patterns []string) bool {
	m := strings.ToLower(method)
	for _, pattern := range patterns {
		if ok, err := path.Match(strings.ToLower(pattern), m); err == nil && ok {
			return true
		}
	}
	return false
}
