package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Connector workers answer /health fast or not at all; 5s covers a loaded
// worker without stalling a fleet probe.
const defaultProbeTimeout = 5 * time.Second

// maxBodyExcerpt bounds how much of an unhealthy response lands in Message.
const maxBodyExcerpt = 120

// HTTPChecker probes a single HTTP endpoint. Defaults suit the connector
// /health contract (GET, 2xx, 5s); the With* setters adjust it for foreign
// endpoints.
type HTTPChecker struct {
	url       string
	headers   map[string]string
	statusMin int
	statusMax int
	client    *http.Client
}

// NewHTTPChecker creates a checker for the given URL.
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		url:       url,
		statusMin: http.StatusOK,
		statusMax: 299,
		client:    &http.Client{Timeout: defaultProbeTimeout},
	}
}

// WithHeader adds a request header to every probe.
func (h *HTTPChecker) WithHeader(key, value string) *HTTPChecker {
	if h.headers == nil {
		h.headers = make(map[string]string)
	}
	h.headers[key] = value
	return h
}

// WithStatusRange sets the inclusive status range counted as healthy.
func (h *HTTPChecker) WithStatusRange(min, max int) *HTTPChecker {
	h.statusMin = min
	h.statusMax = max
	return h
}

// WithTimeout overrides the probe timeout.
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.client.Timeout = timeout
	return h
}

// Check probes the endpoint once.
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	fail := func(format string, args ...interface{}) Result {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf(format, args...),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fail("failed to create request: %v", err)
	}
	for key, value := range h.headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fail("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < h.statusMin || resp.StatusCode > h.statusMax {
		// Carry a slice of the body; connector error pages say why.
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyExcerpt))
		msg := fmt.Sprintf("HTTP %d %s (expected %d-%d)",
			resp.StatusCode, http.StatusText(resp.StatusCode), h.statusMin, h.statusMax)
		if body := strings.TrimSpace(string(excerpt)); body != "" {
			msg = msg + ": " + body
		}
		return fail("%s", msg)
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
