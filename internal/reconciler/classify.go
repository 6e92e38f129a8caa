package reconciler

import "strings"

// nonRetryable marks failures that retrying cannot fix: bad
// credentials, unknown models, exhausted quota. Checked before the
// retryable list so "Invalid API key" never matches a transient
// keyword.
var nonRetryable = []string{
	"api key",
	"authentication",
	"authorization",
	"invalid model",
	"model not found",
	"quota",
	"billing",
}

var retryable = []string{
	"timeout",
	"connection",
	"network",
	"temporary",
	"rate limit",
	"service unavailable",
	"internal server error",
}

// shouldRetry classifies a failure message. Unrecognized errors default
// to retryable: an unknown failure mode is more often transient than
// permanent, and the retry budget bounds the damage when it is not.
func shouldRetry(errorMessage string) bool {
	message := strings.ToLower(errorMessage)
	for _, keyword := range nonRetryable {
		if strings.Contains(message, keyword) {
			return false
		}
	}
	for _, keyword := range retryable {
		if strings.Contains(message, keyword) {
			return true
		}
	}
	return true
}
