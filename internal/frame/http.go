package frame

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"facepulse/internal/monitoring"
)

// httpCapability polls a camera's still-image endpoint.
type httpCapability struct {
	url      string
	interval time.Duration
	client   *http.Client
}

func (c *httpCapability) Name() string { return "http-snapshot" }

func (c *httpCapability) httpClient() *http.Client {
	if c.client != nil {
		return c.client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// Acquire probes the endpoint once; a non-200 answer is treated as a denied
// acquisition. The probe's frame also makes the stream ready.
func (c *httpCapability) Acquire(ctx context.Context, width, height int) (Stream, error) {
	client := c.httpClient()
	img, err := fetchSnapshot(ctx, client, c.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAcquisitionDenied, err)
	}

	s := &httpStream{liveStream: newLiveStream(), url: c.url, client: client, interval: c.interval}
	s.publish(img)
	go s.poll()

	monitoring.Logf("[FrameSource] Polling %s every %v", c.url, c.interval)
	return s, nil
}

type httpStream struct {
	*liveStream
	url      string
	client   *http.Client
	interval time.Duration
}

func (s *httpStream) poll() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
			img, err := fetchSnapshot(ctx, s.client, s.url)
			cancel()
			if err != nil {
				monitoring.Logf("[FrameSource] Error fetching frame from %s: %v", s.url, err)
				continue
			}
			s.publish(img)
		}
	}
}

// Stop ends polling and releases the stream.
func (s *httpStream) Stop() {
	if s.release() {
		monitoring.Logf("[FrameSource] Stopped polling %s", s.url)
	}
}

func fetchSnapshot(ctx context.Context, client *http.Client, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	img, err := imaging.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return img, nil
}
