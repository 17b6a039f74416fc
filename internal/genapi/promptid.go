package genapi

import "regexp"

// The upstream occasionally answers a submission with a 500 whose body still
// names the job it queued. The body in that case is not guaranteed to be
// valid JSON, so the id is scraped out with a pattern instead of decoded.
var promptIDPattern = regexp.MustCompile(`["']prompt_id["']\s*:\s*["']([^"']+)["']`)

// ExtractPromptID scrapes a prompt_id value out of an arbitrary response body.
func ExtractPromptID(body []byte) (string, bool) {
	m := promptIDPattern.FindSubmatch(body)
	if m == nil {
		return "", false
	}
	return string(m[1]), true
}
