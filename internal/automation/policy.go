package automation

import "profile-launcher/internal/core"

// Outcome is the verdict on one step attempt
type Outcome int

const (
	Success Outcome = iota
	Retry
	GiveUp
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retry:
		return "retry"
	default:
		return "give-up"
	}
}

// retryPolicy applies a script's error handling to attempts. Its retry
// budget belongs to the task, so it is shared by every step.
type retryPolicy struct {
	handling core.ErrorHandling
	used     int
}

func newRetryPolicy(h core.ErrorHandling) *retryPolicy {
	return &retryPolicy{handling: h}
}

// Attempt judges the result of an attempt and spends a retry when one is granted
func (p *retryPolicy) Attempt(err error) Outcome {
	if err == nil {
		return Success
	}
	if p.handling.OnError == core.OnErrorRetry && p.used < p.handling.MaxRetries {
		p.used++
		return Retry
	}
	return GiveUp
}

// Retries reports how many retries the task has spent
func (p *retryPolicy) Retries() int {
	return p.used
}

// AfterGiveUp reports whether the rest of the script still runs after a
// step gives up
func (p *retryPolicy) AfterGiveUp() core.OnError {
	switch p.handling.OnError {
	case core.OnErrorAbort:
		return core.OnErrorAbort
	case core.OnErrorRetry:
		if p.handling.AfterRetries == core.OnErrorContinue {
			return core.OnErrorContinue
		}
		return core.OnErrorAbort
	default:
		return core.OnErrorContinue
	}
}
