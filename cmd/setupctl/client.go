package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/bridgectl/internal/observability"
	"github.com/danmuck/bridgectl/internal/protocol/envelope"
)

var ErrNoResponse = errors.New("setupctl: no response")

// ChannelClient drives one bridge's HTTP control channel.
type ChannelClient struct {
	baseURL      string
	controllerID string
	http         *http.Client
	pollInterval time.Duration
	pollAttempts int
}

func NewChannelClient(baseURL, controllerID string, pollInterval time.Duration, pollAttempts int) *ChannelClient {
	if pollInterval <= 0 {
		pollInterval = 150 * time.Millisecond
	}
	if pollAttempts <= 0 {
		pollAttempts = 20
	}
	return &ChannelClient{
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		controllerID: strings.TrimSpace(controllerID),
		http:         &http.Client{Timeout: 10 * time.Second},
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
	}
}

// Write sends one encoded request. The bridge acknowledges every write.
func (c *ChannelClient) Write(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/setup/control", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	c.identify(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("setupctl: write status %d", resp.StatusCode)
	}
	return nil
}

// Poll reads the currently buffered response, nil when there is none.
func (c *ChannelClient) Poll(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/setup/control", nil)
	if err != nil {
		return nil, err
	}
	c.identify(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		return io.ReadAll(io.LimitReader(resp.Body, int64(envelope.MaxPayloadSize)+1))
	default:
		return nil, fmt.Errorf("setupctl: read status %d", resp.StatusCode)
	}
}

// Exchange writes fields and polls until a response stamped tid+1 shows up.
// Older buffered responses are skipped.
func (c *ChannelClient) Exchange(ctx context.Context, fields map[string]any) (envelope.Response, error) {
	tid, _ := fields["tid"].(int)
	payload, err := encodeFields(fields)
	if err != nil {
		return envelope.Response{}, err
	}
	if err := c.Write(ctx, payload); err != nil {
		return envelope.Response{}, err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return envelope.Response{}, ctx.Err()
		case <-ticker.C:
		}
		out, err := c.Poll(ctx)
		if err != nil {
			return envelope.Response{}, err
		}
		if out == nil {
			continue
		}
		resp, err := envelope.DecodeResponse(out)
		if err != nil {
			return envelope.Response{}, err
		}
		if resp.TID == tid+1 {
			return resp, nil
		}
	}
	return envelope.Response{}, fmt.Errorf("%w after %d polls", ErrNoResponse, c.pollAttempts)
}

func (c *ChannelClient) identify(req *http.Request) {
	if c.controllerID != "" {
		req.Header.Set(observability.HeaderControllerID, c.controllerID)
	}
}

// encodeFields builds a request from loose fields so plugin-specific keys
// such as "response" survive next to the envelope fields.
func encodeFields(fields map[string]any) ([]byte, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var req envelope.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	req.Raw = raw
	return envelope.EncodeRequest(req)
}
