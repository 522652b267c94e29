package download

import (
	"errors"
	"fmt"
)

// Status is the state of a download.
type Status int

const (
	StatusQueued Status = iota
	StatusDownloading
	StatusVerifying
	StatusInstalling
	StatusCompleted
	StatusFailed
	StatusCancelled
	StatusPaused
)

// ErrInvalidTransition is returned when a status change would move a
// download backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("invalid download status transition")

var statusNames = [...]string{
	StatusQueued:      "queued",
	StatusDownloading: "downloading",
	StatusVerifying:   "verifying",
	StatusInstalling:  "installing",
	StatusCompleted:   "completed",
	StatusFailed:      "failed",
	StatusCancelled:   "cancelled",
	StatusPaused:      "paused",
}

func (s Status) String() string {
	if int(s) >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown download status %q", b)
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// forward lists the non-failure successors of each state. Failed and
// Cancelled are reachable from every non-terminal state. Verifying cannot be
// skipped on the way to Completed.
var forward = map[Status][]Status{
	StatusQueued:      {StatusDownloading},
	StatusDownloading: {StatusVerifying, StatusPaused},
	StatusPaused:      {StatusDownloading},
	StatusVerifying:   {StatusInstalling, StatusCompleted},
	StatusInstalling:  {StatusCompleted},
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed || next == StatusCancelled {
		return true
	}
	for _, allowed := range forward[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
