// Package provider abstracts the external image-to-3D generation vendors
// behind a single Gateway interface. All vendor-specific knowledge (endpoints,
// status vocabularies, price tables) lives in the per-vendor adapters; nothing
// vendor-specific leaks past this package.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Quality is the requested generation quality tier.
type Quality string

const (
	QualityStandard Quality = "STANDARD"
	QualityHigh     Quality = "HIGH"
	QualityUltra    Quality = "ULTRA"
)

// State is the vendor-agnostic job state every adapter must map into.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Handle identifies a submitted vendor task.
type Handle struct {
	TaskID string
}

// Status is a normalized poll result.
type Status struct {
	State        State
	Progress     int
	ModelURL     string
	VideoURL     string
	ThumbnailURL string
	ErrorMessage string
}

// PollSpec describes how a vendor wants to be polled: a fixed interval between
// attempts and a maximum attempt budget. The budget, not a wall-clock timeout,
// bounds how long a job may stay in flight.
type PollSpec struct {
	Interval    time.Duration
	MaxAttempts int
}

// CostTable is a vendor's credit price per quality tier.
type CostTable struct {
	Standard int
	High     int
	Ultra    int
}

// Credits returns the price for the given tier, defaulting to Standard.
func (t CostTable) Credits(q Quality) int {
	switch q {
	case QualityHigh:
		return t.High
	case QualityUltra:
		return t.Ultra
	default:
		return t.Standard
	}
}

// Gateway is the uniform contract over all generation vendors.
type Gateway interface {
	// Name returns the vendor identifier used in job records.
	Name() string

	// Submit starts a generation task. Non-2xx vendor responses produce
	// *RejectedError; network failures and timeouts produce ErrUnavailable.
	Submit(ctx context.Context, imageURL, prompt string, quality Quality) (Handle, error)

	// Poll fetches and normalizes the vendor's task status.
	Poll(ctx context.Context, taskID string) (Status, error)

	// Cost returns the credit price for the given quality tier. Looked up
	// once at reservation and frozen into the job.
	Cost(quality Quality) int

	// PollSpec returns the vendor's polling interval and attempt budget.
	PollSpec() PollSpec
}

// ErrUnavailable indicates the vendor could not be reached at all.
var ErrUnavailable = errors.New("provider unavailable")

// RejectedError indicates the vendor answered with a non-2xx response.
type RejectedError struct {
	Vendor     string
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected request: status=%d reason=%s", e.Vendor, e.StatusCode, e.Reason)
}

const defaultTimeout = 30 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// doJSON performs an authenticated JSON request and decodes a 2xx body into
// out. Non-2xx responses become *RejectedError with the body as reason;
// transport errors become ErrUnavailable.
func doJSON(ctx context.Context, client *http.Client, vendor, method, url, apiKey string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s request error: %w", vendor, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%s request error: %w", vendor, err)
	}

	req.Header.Set("Authorization", "Bearer "+apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, vendor, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %s: status=%d", ErrUnavailable, vendor, resp.StatusCode)
		}
		return &RejectedError{Vendor: vendor, StatusCode: resp.StatusCode, Reason: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s response decode error: %w", vendor, err)
	}

	return nil
}
