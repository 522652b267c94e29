package download

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// UpdateInterval is the minimum time between two reported progress lines.
const UpdateInterval = 100 * time.Millisecond

// MinBytesForUpdate forces a progress line once this many bytes arrived
// since the last one, whatever the interval.
const MinBytesForUpdate = 1 << 20

// Message is one line of the JSON progress stream.
type Message struct {
	Type       string  `json:"type"` // "progress", "success", "warning" or "error"
	Message    string  `json:"message"`
	ID         string  `json:"id,omitempty"`
	Status     string  `json:"status,omitempty"`
	Total      int64   `json:"total,omitempty"`
	Downloaded int64   `json:"downloaded,omitempty"`
	Percent    float64 `json:"percent,omitempty"`
}

// NewJSONReporter returns a ProgressFunc that writes throttled progress
// lines to w. Status changes are always written. Write errors disable
// further output.
func NewJSONReporter(w io.Writer) ProgressFunc {
	var (
		mu         sync.Mutex
		lastStatus Status = -1
		lastBytes  int64
		lastUpdate time.Time
		failed     bool
	)
	return func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		if failed {
			return
		}
		now := time.Now()
		if p.Status == lastStatus &&
			now.Sub(lastUpdate) < UpdateInterval &&
			p.DownloadedBytes-lastBytes < MinBytesForUpdate &&
			p.DownloadedBytes != p.TotalBytes {
			return
		}
		if err := WriteProgress(w, p); err != nil {
			failed = true
			return
		}
		lastStatus = p.Status
		lastBytes = p.DownloadedBytes
		lastUpdate = now
	}
}

// WriteProgress writes a progress line for p.
func WriteProgress(w io.Writer, p Progress) error {
	return write(w, Message{
		Type:       "progress",
		Message:    fmt.Sprintf("Downloaded: %.2f MB", float64(p.DownloadedBytes)/1024/1024),
		ID:         p.ID,
		Status:     p.Status.String(),
		Total:      p.TotalBytes,
		Downloaded: p.DownloadedBytes,
		Percent:    p.Percent,
	})
}

// WriteSuccess writes a success line.
func WriteSuccess(w io.Writer, message string) error {
	return write(w, Message{Type: "success", Message: message})
}

// WriteWarning writes a warning line.
func WriteWarning(w io.Writer, message string) error {
	return write(w, Message{Type: "warning", Message: message})
}

// WriteError writes an error line.
func WriteError(w io.Writer, message string) error {
	return write(w, Message{Type: "error", Message: message})
}

func write(w io.Writer, msg Message) error {
	if w == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
