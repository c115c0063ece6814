// Package redact masks credential values in text destined for logs or
// stdout.
package redact

import (
	"regexp"
	"strings"
)

var (
	jsonSecretRE  = regexp.MustCompile(`(?i)"(access_token|refresh_token|auth|webhook_code|client_secret)"\s*:\s*"[^"]*"`)
	querySecretRE = regexp.MustCompile(`(?i)(access_token|refresh_token|auth)=[^&\s"]+`)
)

// Mask replaces secret values with *** while keeping the field names, so
// output stays diffable without leaking credentials.
func Mask(text string) string {
	masked := jsonSecretRE.ReplaceAllStringFunc(text, func(m string) string {
		key, _, ok := strings.Cut(m, ":")
		if !ok {
			return m
		}
		return key + `:"***"`
	})
	return querySecretRE.ReplaceAllStringFunc(masked, func(m string) string {
		key, _, ok := strings.Cut(m, "=")
		if !ok {
			return m
		}
		return key + "=***"
	})
}
