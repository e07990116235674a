// Package redact strips credentials from strings before they are logged,
// stored as a job's failure reason or returned to API clients.
//
// Failure reasons often carry upstream error text: database and Redis
// connection errors, provider API errors and presigned document URLs.
// Paths and hosts are left alone because they identify the failing document.
package redact

import "regexp"

// Placeholders substituted for redacted values.
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

var rules = []rule{
	// user:password@ in postgres://, redis://, https:// and similar URLs.
	{regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/@\s:]*:[^/@\s]*@`), "${1}" + RedactedCredentialPlaceholder + "@"},
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd)=([^&\s'"]+)`), "${1}=" + RedactedCredentialPlaceholder},
	// Query and header style secrets, including S3 presigned URL signatures.
	{
		regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?token|token|secret|x-amz-signature|x-amz-credential|x-amz-security-token|key)=([^&\s'"]+)`),
		"${1}=" + RedactedKeyPlaceholder,
	},
	{regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9._~+/=-]{8,}`), "${1} " + RedactedKeyPlaceholder},
	// Provider key formats: OpenAI, Google and AWS access key ids.
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`), RedactedKeyPlaceholder},
}

// String redacts credentials in input.
func String(input string) string {
	if input == "" {
		return input
	}
	out := input
	for _, r := range rules {
		out = r.pattern.ReplaceAllString(out, r.replacement)
	}
	return out
}

// Error redacts err's message.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
