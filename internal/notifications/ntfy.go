package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"sdqueue/internal/events"
)

const userAgent = "sdqueue/0.1.0"

// NtfyPublisher posts job outcomes to an ntfy topic URL.
type NtfyPublisher struct {
	endpoint string
	client   *http.Client
}

// NewNtfyPublisher returns a publisher for the topic URL.
func NewNtfyPublisher(topic string, timeout time.Duration) *NtfyPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NtfyPublisher{
		endpoint: strings.TrimSpace(topic),
		client:   &http.Client{Timeout: timeout},
	}
}

func (n *NtfyPublisher) Name() string { return "ntfy" }

func (n *NtfyPublisher) Close() error {
	n.client.CloseIdleConnections()
	return nil
}

// Send delivers evt when it reports a completed or failed job.
func (n *NtfyPublisher) Send(ctx context.Context, evt events.Event) error {
	data, ok := payloadFor(evt)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

func payloadFor(evt events.Event) (payload, bool) {
	if evt.Type != events.JobStatusChanged {
		return payload{}, false
	}
	kind, _ := evt.Fields["kind"].(string)
	label := kind + " job " + shortID(evt.JobID)
	switch to, _ := evt.Fields["to"].(string); to {
	case "completed":
		message := "✅ Finished " + label
		if d, ok := durationField(evt.Fields["duration_ms"]); ok {
			message += " in " + d.Round(time.Second).String()
		}
		if outputs := outputNames(evt.Fields["outputs"]); len(outputs) > 0 {
			message += "\n" + strings.Join(outputs, "\n")
		}
		return payload{
			title:   "SDQueue - Job Complete",
			message: message,
			tags:    []string{"sdqueue", kind, "completed"},
		}, true
	case "failed":
		reason, _ := evt.Fields["error_message"].(string)
		if strings.TrimSpace(reason) == "" {
			reason = "unknown error"
		}
		return payload{
			title:    "SDQueue - Job Failed",
			message:  fmt.Sprintf("❌ %s failed: %s", label, strings.TrimSpace(reason)),
			tags:     []string{"sdqueue", kind, "failed"},
			priority: "high",
		}, true
	}
	return payload{}, false
}

func (n *NtfyPublisher) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// durationField accepts the in-process int64 and the float64 a JSON
// round trip produces.
func durationField(value any) (time.Duration, bool) {
	switch v := value.(type) {
	case int64:
		return time.Duration(v) * time.Millisecond, true
	case float64:
		return time.Duration(v) * time.Millisecond, true
	}
	return 0, false
}

func outputNames(value any) []string {
	var paths []string
	switch v := value.(type) {
	case []string:
		paths = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				paths = append(paths, s)
			}
		}
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	return names
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
