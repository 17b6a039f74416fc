package domain

// Media is one generated artifact reference. URL may be a remote address or a
// base64 data URI; data URIs are passed through untouched, decoding them is
// the caller's concern.
type Media struct {
	URL      string
	Filename string
	MIMEType string
}

// NormalizedResult is the canonical shape every upstream response is folded
// into, whatever the backend actually returned.
type NormalizedResult struct {
	Images  []Media
	Videos  []Media
	Cost    *float64
	Balance *float64
}

// Empty reports whether the result carries no artifacts at all.
func (r NormalizedResult) Empty() bool {
	return len(r.Images) == 0 && len(r.Videos) == 0
}

// JobStatus enumerates the poll-side lifecycle of a submitted job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)
