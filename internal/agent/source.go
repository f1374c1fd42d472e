package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"
)

// Detection is one face observed by the camera sidecar: an embedding plus
// the detector's confidence, the capture time and an optional snapshot
// crop for review. CapturedAt matters because the sidecar buffers pending
// detections; a drained backlog must not shift first-seen times to the
// poll that happened to collect it.
type Detection struct {
	Embedding   []float32 `json:"embedding"`
	Confidence  float64   `json:"confidence"`
	CapturedAt  time.Time `json:"captured_at"`
	SnapshotB64 string    `json:"snapshot_b64,omitempty"`
}

// DetectionSource yields batches of face detections. Next blocks until a
// batch is available or the context is cancelled.
type DetectionSource interface {
	Next(ctx context.Context) ([]Detection, error)
}

// HTTPSource polls a detector sidecar for pending detections. The sidecar
// owns the camera and the face-detection model; the agent only consumes
// embeddings, so the vision stack can be swapped without touching it.
type HTTPSource struct {
	url      string
	http     *http.Client
	interval time.Duration
	failing  bool
}

// NewHTTPSource creates a source polling detectorURL at the given interval.
func NewHTTPSource(detectorURL string, interval time.Duration) (*HTTPSource, error) {
	u, err := url.Parse(detectorURL)
	if err != nil {
		return nil, fmt.Errorf("invalid detector URL %q: %w", detectorURL, err)
	}
	return &HTTPSource{
		url:      u.JoinPath("detections").String(),
		http:     &http.Client{Timeout: 10 * time.Second},
		interval: interval,
	}, nil
}

// Next polls until the sidecar returns a non-empty batch. Poll errors roll
// over into the next tick; a dead sidecar must not kill the agent, the
// camera will come back. Failures are logged once per outage, not once per
// tick.
func (s *HTTPSource) Next(ctx context.Context) ([]Detection, error) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		detections, err := s.poll(ctx)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			if !s.failing {
				s.failing = true
				log.Printf("detector poll failed, retrying every %s: %v", s.interval, err)
			}
		} else {
			if s.failing {
				s.failing = false
				log.Printf("detector reachable again")
			}
			if len(detections) > 0 {
				return detections, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *HTTPSource) poll(ctx context.Context) ([]Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build detector request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll detector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector returned %d", resp.StatusCode)
	}

	var detections []Detection
	if err := json.NewDecoder(resp.Body).Decode(&detections); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	return detections, nil
}
