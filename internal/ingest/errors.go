package ingest

import "fmt"

// Reason discriminates the download failure categories. Callers
// branch on this, never on error strings.
type Reason string

// Download failure reasons.
const (
	ReasonTimeout  Reason = "timeout"
	ReasonOversize Reason = "oversize"
	ReasonNonImage Reason = "non_image"
	ReasonNetwork  Reason = "network"
)

// DownloadError is returned for every failed fetch. It always carries
// a Reason; Err holds the underlying cause when one exists.
type DownloadError struct {
	Reason Reason
	Err    error
}

// Error implements the error interface.
func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("image download failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("image download failed (%s)", e.Reason)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *DownloadError) Unwrap() error {
	return e.Err
}
