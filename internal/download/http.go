package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultUserAgent = "sdqueue/dev"

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	UserAgent string
	// Timeout bounds the whole transfer. Zero disables it.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPClient downloads http and https URLs.
type HTTPClient struct {
	userAgent string
	http      *http.Client
}

// NewHTTPClient creates an HTTPClient from cfg.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPClient{userAgent: userAgent, http: client}
}

func (c *HTTPClient) Download(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build download request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		detail := strings.TrimSpace(string(body))
		if detail == "" {
			return Result{}, fmt.Errorf("download failed (%s)", resp.Status)
		}
		return Result{}, fmt.Errorf("download failed (%s): %s", resp.Status, detail)
	}

	size, err := writeFile(ctx, req.Path, resp.Body, resp.ContentLength, progress)
	if err != nil {
		return Result{}, err
	}
	return Result{Path: req.Path, Size: size}, nil
}
