package backoff

import (
	"net/http"

	"github.com/vietddude/scrapeback/internal/core/domain"
)

// State is the classifier's decision for one attempt.
type State int

const (
	Continue      State = iota // retry on the generic schedule
	ContinueLong               // retry on the server-error schedule
	StopSuccess                // return the response
	StopExhausted              // return the last response, budget spent
)

func (s State) String() string {
	switch s {
	case Continue:
		return "continue"
	case ContinueLong:
		return "continue_long"
	case StopSuccess:
		return "success"
	case StopExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the loop stops on s.
func (s State) Terminal() bool {
	return s == StopSuccess || s == StopExhausted
}

// Input is the loop state the classifier needs to judge a response.
type Input struct {
	Response               *domain.Response
	Attempt                int
	MaxAttempts            int
	ServerErrorAttempt     int
	MaxServerErrorAttempts int
	Ignore404              bool
	LongWaitFor5xx         bool
}

// Verdict is the classifier output plus the ledger side effects it implies.
type Verdict struct {
	State    State
	MarkBad  bool
	ClearBad bool
	Rejected bool
}

// Classify decides what to do with one response. accept is consulted only
// for status 200 and may be nil.
func Classify(in Input, accept func(*domain.Response) bool) Verdict {
	resp := in.Response
	if resp == nil {
		return Verdict{State: Continue}
	}
	final := in.Attempt >= in.MaxAttempts

	if resp.StatusCode == http.StatusOK {
		if accept != nil && !accept(resp) {
			if final {
				return Verdict{State: StopExhausted, MarkBad: true, Rejected: true}
			}
			return Verdict{State: Continue, MarkBad: true, Rejected: true}
		}
		return Verdict{State: StopSuccess, ClearBad: true}
	}

	notFound := resp.StatusCode == http.StatusNotFound
	if notFound && in.Ignore404 {
		return Verdict{State: StopSuccess, ClearBad: true}
	}

	if final {
		return Verdict{State: StopExhausted, MarkBad: !notFound}
	}

	if resp.ServerError() && in.LongWaitFor5xx {
		if in.ServerErrorAttempt > in.MaxServerErrorAttempts {
			return Verdict{State: StopExhausted, MarkBad: true}
		}
		return Verdict{State: ContinueLong, MarkBad: true}
	}

	return Verdict{State: Continue, MarkBad: true}
}
