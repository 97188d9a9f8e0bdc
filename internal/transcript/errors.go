package transcript

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable matches every failure to obtain a transcript.
	ErrUnavailable = errors.New("transcript unavailable")
	// ErrRateLimited marks unavailability caused by upstream throttling. It
	// is worth retrying later.
	ErrRateLimited = errors.New("rate limited by youtube")
)

// UnavailableError reports why no transcript could be obtained for a video.
type UnavailableError struct {
	VideoID string
	Reason  string
	Err     error
}

func (e *UnavailableError) Error() string {
	msg := fmt.Sprintf("transcript for %s unavailable: %s", e.VideoID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

func unavailable(videoID, reason string, err error) *UnavailableError {
	return &UnavailableError{VideoID: videoID, Reason: reason, Err: err}
}
