package executor

import (
	"errors"
	"net"

	"github.com/ledgerline/filings-orchestrator/internal/errs"
)

// httpStatusError is satisfied by provider client errors that carry the
// upstream HTTP status code, letting classify distinguish a 4xx (the
// request itself was bad — fatal) from a 5xx/timeout (the service is
// having a bad day — resumable).
type httpStatusError interface {
	error
	StatusCode() int
}

// classifyStepFailure decides whether err permits a future resume,
// resolving Open Question (b): "the exact classification of fatal vs
// resumable for errors originating in external services". The matrix:
//
//   - validate_url failing at all: fatal. The URL itself is wrong; retrying
//     without a new URL cannot succeed.
//   - scrape_page finding zero qualifying documents: fatal. There is
//     nothing to resume toward.
//   - a Store errs.ValidationFailed or errs.Conflict surfacing mid-step
//     (the job's assumptions are invalid): fatal.
//   - an upstream HTTP 4xx (bad request, bad API key, model rejected the
//     input): fatal — the same request will fail identically on resume.
//   - an upstream HTTP 5xx, a network error, a context deadline, or any
//     errs.Unavailable: resumable — the same request may succeed later.
//   - anything else (uncategorized internal errors): resumable by default,
//     per spec.md §9(b)'s instruction to default to resumable and document
//     the matrix here.
func classifyStepFailure(step Step, err error) (canResume bool) {
	if err == nil {
		return true
	}
	if errs.IsCancelled(err) {
		return true
	}

	switch step {
	case StepValidateURL:
		return false
	case StepScrapePage:
		if errors.Is(err, ErrNoQualifyingDocuments) {
			return false
		}
	}

	switch errs.KindOf(err) {
	case errs.ValidationFailed, errs.Conflict:
		return false
	case errs.Unavailable:
		return true
	}

	var httpErr httpStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode() >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return true
}

// ErrNoQualifyingDocuments is returned by the scrape_page step when the
// Scraper finds no PDF links on the source page; per §7 this makes
// scrape_page fatal.
var ErrNoQualifyingDocuments = errors.New("source page contains no qualifying documents")
