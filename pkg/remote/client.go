// Package remote implements the coordinator's RemoteClient collaborator
// over HTTP. Batch payloads travel as lz4-framed JSON; the compressed size
// is what the sync engine accounts as bytes transferred.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pierrec/lz4/v4"

	"vex/pkg/coordinator"
)

const lz4ContentType = "application/x-lz4-json"

// Client talks to peer instances over their HTTP replica surface.
type Client struct {
	httpClient *http.Client
}

// Options control Client behavior.
type Options struct {
	// Timeout is the per-request ceiling. Calls additionally honor their ctx.
	Timeout time.Duration
}

// NewClient builds an HTTP remote client.
func NewClient(opts *Options) *Client {
	timeout := 30 * time.Second
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Probe checks instance liveness via its health endpoint.
func (c *Client) Probe(ctx context.Context, inst coordinator.DatabaseInstance) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inst.URL+"/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe %s: unexpected status %d", inst.ID, resp.StatusCode)
	}
	return nil
}

// PushBatch sends the push request as an lz4-framed JSON body and decodes
// the ack. The ack's Bytes field is set to the compressed request size.
func (c *Client) PushBatch(ctx context.Context, inst coordinator.DatabaseInstance, pushReq coordinator.PushRequest) (coordinator.PushAck, error) {
	body, err := compressJSON(pushReq)
	if err != nil {
		return coordinator.PushAck{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inst.URL+"/v1/replica/batch", bytes.NewReader(body))
	if err != nil {
		return coordinator.PushAck{}, err
	}
	req.Header.Set("Content-Type", lz4ContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return coordinator.PushAck{}, err
	}
	defer drain(resp)
	if err := checkStatus(resp); err != nil {
		return coordinator.PushAck{}, fmt.Errorf("push batch to %s: %w", inst.ID, err)
	}

	var ack coordinator.PushAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return coordinator.PushAck{}, fmt.Errorf("decode push ack from %s: %w", inst.ID, err)
	}
	ack.Bytes = int64(len(body))
	return ack, nil
}

// PullBatch reads one lz4-framed page of records. The result's Bytes field
// is the compressed response size.
func (c *Client) PullBatch(ctx context.Context, inst coordinator.DatabaseInstance, cursor string, limit int) (coordinator.PullResult, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	q.Set("limit", strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inst.URL+"/v1/replica/batch?"+q.Encode(), nil)
	if err != nil {
		return coordinator.PullResult{}, err
	}
	req.Header.Set("Accept", lz4ContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return coordinator.PullResult{}, err
	}
	defer drain(resp)
	if err := checkStatus(resp); err != nil {
		return coordinator.PullResult{}, fmt.Errorf("pull batch from %s: %w", inst.ID, err)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return coordinator.PullResult{}, err
	}
	var page coordinator.PullResult
	if err := decompressJSON(raw, &page); err != nil {
		return coordinator.PullResult{}, fmt.Errorf("decode pull page from %s: %w", inst.ID, err)
	}
	page.Bytes = int64(len(raw))
	return page, nil
}

// Write force-upserts a single record.
func (c *Client) Write(ctx context.Context, inst coordinator.DatabaseInstance, item coordinator.VectorData) error {
	body, err := json.Marshal(item)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		inst.URL+"/v1/replica/vectors/"+url.PathEscape(item.ID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("write %q to %s: %w", item.ID, inst.ID, err)
	}
	return nil
}

// Delete removes a single record.
func (c *Client) Delete(ctx context.Context, inst coordinator.DatabaseInstance, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		inst.URL+"/v1/replica/vectors/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("delete %q from %s: %w", id, inst.ID, err)
	}
	return nil
}

// compressJSON encodes v as JSON inside an lz4 frame.
func compressJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompressJSON decodes an lz4-framed JSON payload into v.
func decompressJSON(raw []byte, v any) error {
	return json.NewDecoder(lz4.NewReader(bytes.NewReader(raw))).Decode(v)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
