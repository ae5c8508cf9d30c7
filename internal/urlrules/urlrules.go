// Package urlrules implements the URL-validation and company-name
// derivation rule from spec.md §6, shared by the HTTP layer (at project
// creation) and the executor's validate_url step (at job run time).
package urlrules

import (
	"regexp"
	"strings"
)

var filingsURLPattern = regexp.MustCompile(
	`^https://[^/]+/stock-share-price/([a-zA-Z0-9-]+)/[^/]+/[^/]+/financials-annual-reports/?$`,
)

// Validate reports whether rawURL matches the required filings-page
// shape: https://<host>/stock-share-price/<slug>/<code>/<id>/financials-annual-reports/
func Validate(rawURL string) bool {
	return filingsURLPattern.MatchString(rawURL)
}

// CompanyName derives the display name from a validated URL's <slug>
// segment: hyphens become spaces, and the result is upper-cased.
func CompanyName(rawURL string) string {
	m := filingsURLPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ""
	}
	return strings.ToUpper(strings.ReplaceAll(m[1], "-", " "))
}
