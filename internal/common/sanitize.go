package common

import (
	"fmt"
	"regexp"
)

// maxErrorMessageLen caps the error text persisted to the status store.
const maxErrorMessageLen = 500

// credential-looking fragments (DSNs, bearer tokens, api keys) are redacted
// before an error message becomes user-visible status.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(postgres(?:ql)?|redis|mysql)://[^\s"']+`),
	regexp.MustCompile(`(?i)(api[_-]?key|token|password|secret)\s*[=:]\s*\S+`),
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._\-]+`),
}

// SanitizeErrorMessage produces the status-store representation of a stage
// failure: prefixed with the stage name, credentials redacted, length capped.
func SanitizeErrorMessage(err error, stage string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, re := range sensitivePatterns {
		msg = re.ReplaceAllString(msg, "[redacted]")
	}
	msg = fmt.Sprintf("%s: %s", stage, msg)
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	return msg
}
