package download

import (
	"fmt"

	"github.com/burncloud/model-installer/pkg/errkind"
	"github.com/docker/go-units"
)

// ErrInvalidURL is returned for download URLs that are not absolute http(s)
// URLs.
var ErrInvalidURL = fmt.Errorf("invalid download url: %w", errkind.ErrConfiguration)

// HTTPStatusError is returned when the server answers with a non-success
// status.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("download %s: unexpected status %s", e.URL, e.Status)
}

func (e *HTTPStatusError) Is(target error) bool {
	return errkind.Matches(errkind.Transport, target)
}

// InsufficientSpaceError is returned by the pre-flight capacity check.
type InsufficientSpaceError struct {
	Path      string
	Required  uint64
	Available uint64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space in %s: need %s, have %s",
		e.Path, units.BytesSize(float64(e.Required)), units.BytesSize(float64(e.Available)))
}

func (e *InsufficientSpaceError) Is(target error) bool {
	return errkind.Matches(errkind.Capacity, target)
}
