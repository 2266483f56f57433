// Package callapi is a client for the call-lifecycle REST API: starting and
// ending check-in calls, reading call records and elder profiles, and
// triggering village actions.
package callapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/village-live/pkg/core"
	"github.com/vango-go/village-live/pkg/village"
)

// DefaultBaseURL is the local backend address.
const DefaultBaseURL = "http://localhost:8000"

// ErrMissingID is returned when a call or elder ID argument is empty.
var ErrMissingID = errors.New("callapi: id must not be empty")

// TransportError represents HTTP transport-level failures (DNS, timeouts,
// connection reset) while talking to the API.
//
// Use errors.As to distinguish transport failures from API errors
// (*core.Error).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func redactURLUserInfo(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client talks to the call-lifecycle API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: newDefaultHTTPClient(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// newDefaultHTTPClient sets transport timeouts and leaves the request
// lifetime to context deadlines.
func newDefaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// StartCallRequest is the body of POST /api/call/start.
type StartCallRequest struct {
	ElderID string `json:"elder_id"`
}

// ListCallsParams filters GET /api/calls. Zero values are omitted.
type ListCallsParams struct {
	ElderID string
	Limit   int
}

// ListActionsParams filters GET /api/village/actions.
type ListActionsParams struct {
	CallID string
	Status village.ActionStatus
}

// StartCall starts a check-in call with the elder.
func (c *Client) StartCall(ctx context.Context, elderID string) (*village.CallSession, error) {
	if strings.TrimSpace(elderID) == "" {
		return nil, ErrMissingID
	}
	var out village.CallSession
	if err := c.doJSON(ctx, http.MethodPost, "/api/call/start", StartCallRequest{ElderID: elderID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EndCall ends an active call and returns the final record.
func (c *Client) EndCall(ctx context.Context, callID string) (*village.CallSession, error) {
	if strings.TrimSpace(callID) == "" {
		return nil, ErrMissingID
	}
	var out village.CallSession
	if err := c.doJSON(ctx, http.MethodPost, "/api/call/"+url.PathEscape(callID)+"/end", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCall(ctx context.Context, callID string) (*village.CallSession, error) {
	if strings.TrimSpace(callID) == "" {
		return nil, ErrMissingID
	}
	var out village.CallSession
	if err := c.doJSON(ctx, http.MethodGet, "/api/call/"+url.PathEscape(callID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCalls returns calls, most recent first.
func (c *Client) ListCalls(ctx context.Context, params ListCallsParams) ([]village.CallSession, error) {
	q := url.Values{}
	if params.ElderID != "" {
		q.Set("elder_id", params.ElderID)
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	var out []village.CallSession
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/api/calls", q), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetElder(ctx context.Context, elderID string) (*village.Elder, error) {
	if strings.TrimSpace(elderID) == "" {
		return nil, ErrMissingID
	}
	var out village.Elder
	if err := c.doJSON(ctx, http.MethodGet, "/api/elder/"+url.PathEscape(elderID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetElderHistory returns the elder's past calls, most recent first.
func (c *Client) GetElderHistory(ctx context.Context, elderID string, limit int) ([]village.CallSession, error) {
	if strings.TrimSpace(elderID) == "" {
		return nil, ErrMissingID
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []village.CallSession
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/api/elder/"+url.PathEscape(elderID)+"/history", q), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TriggerVillageAction records an outreach to a village member.
func (c *Client) TriggerVillageAction(ctx context.Context, action village.VillageAction) (*village.VillageAction, error) {
	var out village.VillageAction
	if err := c.doJSON(ctx, http.MethodPost, "/api/village/trigger", action, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListVillageActions(ctx context.Context, params ListActionsParams) ([]village.VillageAction, error) {
	q := url.Values{}
	if params.CallID != "" {
		q.Set("call_id", params.CallID)
	}
	if params.Status != "" {
		q.Set("status", string(params.Status))
	}
	var out []village.VillageAction
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/api/village/actions", q), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	endpoint := c.baseURL + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: method, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &TransportError{Op: method, URL: endpoint, Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := decodeErrorResponse(resp.StatusCode, resp.Header, respBody)
		c.logger.Debug("call api request failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"error", apiErr)
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// decodeErrorResponse accepts the {"error":{...}} envelope and the
// {"detail":"..."} shape, falling back to the status code.
func decodeErrorResponse(status int, header http.Header, body []byte) *core.Error {
	requestID := header.Get("X-Request-Id")

	var env struct {
		Error  *core.Error `json:"error"`
		Detail any         `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Error != nil {
			if env.Error.Type == "" {
				env.Error.Type = core.ErrorTypeForStatus(status)
			}
			if env.Error.Message == "" {
				env.Error.Message = http.StatusText(status)
			}
			if env.Error.RequestID == "" {
				env.Error.RequestID = requestID
			}
			env.Error.StatusCode = status
			return env.Error
		}
		if detail, ok := env.Detail.(string); ok && detail != "" {
			return &core.Error{
				Type:       core.ErrorTypeForStatus(status),
				Message:    detail,
				RequestID:  requestID,
				StatusCode: status,
			}
		}
	}

	return &core.Error{
		Type:       core.ErrorTypeForStatus(status),
		Message:    fmt.Sprintf("call api request failed with status %d", status),
		RequestID:  requestID,
		StatusCode: status,
	}
}
