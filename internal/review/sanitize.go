package review

import (
	"regexp"

	"mr-agent/internal/i18n"
)

// allowedErrors are the only error messages echoed back to users verbatim.
// Anything else collapses to the localised generic message so provider and
// forge internals never leak into comments.
var allowedErrors = []*regexp.Regexp{
	regexp.MustCompile(`^Missing [A-Z0-9_]+`),
	regexp.MustCompile(`^Unsupported AI_PROVIDER`),
	regexp.MustCompile(`^Model returned empty`),
	regexp.MustCompile(`^Model response is not valid JSON`),
}

// SanitizeError returns a user-safe rendition of an internal error.
func SanitizeError(locale i18n.Locale, err error) string {
	if err == nil {
		return i18n.T(locale, i18n.KeyInternalError)
	}
	msg := err.Error()
	for _, re := range allowedErrors {
		if re.MatchString(msg) {
			return msg
		}
	}
	return i18n.T(locale, i18n.KeyInternalError)
}
