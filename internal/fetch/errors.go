package fetch

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to adapters and the orchestrator. Matched with
// errors.Is.
var (
	// ErrNetwork marks transport-level failures after retries.
	ErrNetwork = errors.New("network failure")

	// ErrRateLimited marks a 429 that survived the backoff budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrBotChallenged marks a 403/503 from a bot-gated host; callers
	// fall through to the browser path.
	ErrBotChallenged = errors.New("bot challenge")

	// ErrBrowserRequired marks a source that cannot be fetched without
	// the rendering capability.
	ErrBrowserRequired = errors.New("browser rendering required")
)

// FetchError carries the terminal status of a failed fetch.
type FetchError struct {
	URL       string
	Status    int
	Attempts  int
	Retryable bool
	Err       error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: status %d after %d attempts: %v", e.URL, e.Status, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d after %d attempts", e.URL, e.Status, e.Attempts)
}

func (e *FetchError) Unwrap() error { return e.Err }
