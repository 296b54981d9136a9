package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"agent-console/internal/calls"
	"agent-console/internal/fault"
	"agent-console/pkg/logger"
)

const defaultTimeout = 10 * time.Second

// Client talks to the CRM REST backend that owns queues, contacts and calls.
//
// Every failure is reported as a fault.ErrNetwork; non-2xx answers carry an
// *APIError so callers can look at the status.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		HTTPClient:  &http.Client{Timeout: defaultTimeout},
		Timeout:     defaultTimeout,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// StatusOf returns the HTTP status of an API error, or 0.
func StatusOf(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

func (c *Client) StartWork(ctx context.Context) error {
	return c.call(ctx, "backend.start_work", http.MethodPost, "api/agent/work/start", nil, nil, nil)
}

func (c *Client) StopWork(ctx context.Context) error {
	return c.call(ctx, "backend.stop_work", http.MethodPost, "api/agent/work/stop", nil, nil, nil)
}

type nextContactResponse struct {
	Empty   bool           `json:"empty"`
	Contact *calls.Contact `json:"contact"`
}

// NextContact returns the next queue entry for the campaign, or nil when the
// queue is empty.
func (c *Client) NextContact(ctx context.Context, campaignID string) (*calls.Contact, error) {
	q := url.Values{"campaign_id": {campaignID}}
	var resp nextContactResponse
	if err := c.call(ctx, "backend.next_contact", http.MethodGet, "api/agent/queue/next?"+q.Encode(), nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Empty || resp.Contact == nil || resp.Contact.ID == "" {
		return nil, nil
	}
	return resp.Contact, nil
}

type OpenCallRequest struct {
	ContactID string         `json:"contact_id"`
	Kind      calls.CallKind `json:"kind"`
	Phone     string         `json:"phone,omitempty"`
}

// OpenCall creates the server-side call record. For bridge calls the backend
// also asks the provider to dial and returns its session id.
func (c *Client) OpenCall(ctx context.Context, req OpenCallRequest) (calls.CallRecord, error) {
	var rec calls.CallRecord
	err := c.call(ctx, "backend.open_call", http.MethodPost, "api/agent/calls", nil, req, &rec)
	if err == nil && rec.CallID == "" {
		err = fault.Network("backend.open_call", errors.New("response without call_id"))
	}
	return rec, err
}

func (c *Client) EndCall(ctx context.Context, callID, transportSessionID string) error {
	body := map[string]any{}
	if transportSessionID != "" {
		body["transport_session_id"] = transportSessionID
	}
	return c.call(ctx, "backend.end_call", http.MethodPost, "api/agent/calls/"+url.PathEscape(callID)+"/end", nil, body, nil)
}

// SaveOutcome submits the outcome once; the call id doubles as idempotency key
// so a repeated submission cannot create a second record.
func (c *Client) SaveOutcome(ctx context.Context, out calls.CallOutcome) error {
	h := http.Header{"Idempotency-Key": {out.CallID}}
	return c.call(ctx, "backend.save_outcome", http.MethodPost, "api/agent/calls/"+url.PathEscape(out.CallID)+"/outcome", h, out, nil)
}

func (c *Client) CallHistory(ctx context.Context, contactID string) ([]calls.HistoryEntry, error) {
	var resp struct {
		Items []calls.HistoryEntry `json:"items"`
	}
	err := c.call(ctx, "backend.call_history", http.MethodGet, "api/agent/contacts/"+url.PathEscape(contactID)+"/calls", nil, nil, &resp)
	return resp.Items, err
}

func (c *Client) QueueStatus(ctx context.Context, campaignID string) (calls.QueueStatus, error) {
	q := url.Values{"campaign_id": {campaignID}}
	var st calls.QueueStatus
	err := c.call(ctx, "backend.queue_status", http.MethodGet, "api/agent/queue/status?"+q.Encode(), nil, nil, &st)
	return st, err
}

func (c *Client) AddNote(ctx context.Context, contactID, text string) error {
	body := map[string]string{"text": text}
	return c.call(ctx, "backend.add_note", http.MethodPost, "api/agent/contacts/"+url.PathEscape(contactID)+"/notes", nil, body, nil)
}

func (c *Client) call(ctx context.Context, op, method, endpoint string, header http.Header, body, out any) error {
	if err := c.do(ctx, method, endpoint, header, body, out); err != nil {
		return fault.Network(op, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, header http.Header, body, out any) error {
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	rid := logger.RequestID(ctx)
	if rid == "" {
		rid = uuid.NewString()
	}
	req.Header.Set(logger.HeaderRequestID, rid)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
