package qa

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/ytreader/internal/generator"
	"github.com/kalambet/ytreader/internal/prompt"
)

// Kind classifies a failed answer.
type Kind string

const (
	KindInvalidQuestion           Kind = "InvalidQuestion"
	KindPromptBudget              Kind = "PromptBudget"
	KindUpstreamUnavailable       Kind = "UpstreamUnavailable"
	KindUpstreamTimeout           Kind = "UpstreamTimeout"
	KindUpstreamMalformedResponse Kind = "UpstreamMalformedResponse"
	KindCanceled                  Kind = "Canceled"
	KindInternal                  Kind = "Internal"
)

// Error is returned by Service methods. Stage is the last stage reached
// before the failure.
type Error struct {
	Kind    Kind
	Stage   Stage
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at %s: %s: %v", e.Kind, e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Stage, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind carried by err, or KindInternal when err is not a
// *Error.
func KindOf(err error) Kind {
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindInternal
}

// classify maps a failure from the prompt or generation step to a Kind.
// ctx is the caller's context.
func classify(ctx context.Context, err error) (Kind, string) {
	switch {
	case ctx.Err() != nil:
		return contextKind(ctx.Err())
	case errors.Is(err, prompt.ErrBudgetTooSmall):
		return KindPromptBudget, "question does not fit the prompt budget"
	case errors.Is(err, generator.ErrUpstreamTimeout):
		return KindUpstreamTimeout, "language model timed out"
	case errors.Is(err, generator.ErrUpstreamMalformedResponse):
		return KindUpstreamMalformedResponse, "language model returned an unreadable response"
	case errors.Is(err, generator.ErrUpstreamUnavailable):
		return KindUpstreamUnavailable, "language model is unavailable"
	default:
		return KindInternal, "internal error"
	}
}

// contextKind maps a done context's error. A passed deadline, such as the
// server's request timeout, is a timeout; anything else is the caller going
// away.
func contextKind(err error) (Kind, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUpstreamTimeout, "request deadline exceeded"
	}
	return KindCanceled, "request canceled"
}
