package download

import (
	"fmt"
	"time"
)

// Progress is the observable state of one download. The manager mutates it
// only from the goroutine running Download; callbacks receive copies.
type Progress struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Status          Status         `json:"status"`
	TotalBytes      int64          `json:"total_bytes"`
	DownloadedBytes int64          `json:"downloaded_bytes"`
	Percent         float64        `json:"percent"`
	SpeedBps        float64        `json:"speed_bps"`
	ETA             *time.Duration `json:"eta,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	Error           string         `json:"error,omitempty"`
	Resumed         bool           `json:"resumed,omitempty"`

	// resumedFrom is the offset a resumed transfer started at. Speed only
	// counts bytes moved in this session.
	resumedFrom int64
}

// ProgressFunc receives a snapshot after every chunk and status change.
type ProgressFunc func(Progress)

func newProgress(id, name string, now time.Time) *Progress {
	return &Progress{
		ID:        id,
		Name:      name,
		Status:    StatusQueued,
		StartedAt: now,
	}
}

func (p *Progress) transition(next Status) error {
	if !p.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, next)
	}
	p.Status = next
	return nil
}

// resumeAt records that the transfer continues from offset.
func (p *Progress) resumeAt(offset int64) {
	p.DownloadedBytes = offset
	p.resumedFrom = offset
	p.Resumed = offset > 0
}

// advance accounts for n more bytes at time now.
func (p *Progress) advance(n int64, now time.Time) {
	p.DownloadedBytes += n
	if p.TotalBytes > 0 {
		p.Percent = float64(p.DownloadedBytes) / float64(p.TotalBytes) * 100
	}
	elapsed := now.Sub(p.StartedAt).Seconds()
	if elapsed <= 0 {
		return
	}
	p.SpeedBps = float64(p.DownloadedBytes-p.resumedFrom) / elapsed
	if p.SpeedBps > 0 && p.TotalBytes > 0 {
		remaining := p.TotalBytes - p.DownloadedBytes
		if remaining < 0 {
			remaining = 0
		}
		eta := time.Duration(float64(remaining) / p.SpeedBps * float64(time.Second))
		p.ETA = &eta
	}
}
