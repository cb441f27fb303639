// Package backend is a client for the coaching backend's REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/teslashibe/go-coach/internal/httpc"
	"github.com/teslashibe/go-coach/pkg/protocol"
)

// AudioKind selects a recorded track.
type AudioKind string

const (
	AudioMix  AudioKind = "mix"
	AudioMic  AudioKind = "mic"
	AudioLoop AudioKind = "loop"
)

// Valid reports whether k is a known track.
func (k AudioKind) Valid() bool {
	switch k {
	case AudioMix, AudioMic, AudioLoop:
		return true
	}
	return false
}

// SessionInfo is the response to a session start.
type SessionInfo struct {
	CallID string `json:"call_id"`
	WSURL  string `json:"ws_url"`
	Status string `json:"status"`
}

// CallRecord is a stored call as returned by the transcript endpoint.
type CallRecord struct {
	CallID      string                       `json:"call_id"`
	StartTime   string                       `json:"start_time,omitempty"`
	EndTime     string                       `json:"end_time,omitempty"`
	Transcript  []protocol.TranscriptUpdate  `json:"transcript"`
	Objections  []protocol.ObjectionDetected `json:"objections"`
	Suggestions []protocol.SuggestionReady   `json:"suggestions"`
	Summary     *protocol.CallSummary        `json:"summary,omitempty"`
}

// UploadResult acknowledges a final recording upload.
type UploadResult struct {
	CallID   string `json:"call_id"`
	Filename string `json:"filename"`
	Bytes    int    `json:"bytes"`
	Status   string `json:"status"`
}

// Client talks to the coaching backend.
type Client struct {
	config  *Config
	http    *http.Client
	upload  *http.Client
	logger  *slog.Logger
	baseURL string
}

// New creates a Client.
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("backend: invalid base URL: %w", err)
	}

	base := cfg.HTTPClient
	if base == nil {
		base = httpc.NewClient(cfg.Timeout)
	}

	hc := base
	if cfg.oauthEnabled() {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		hc = cc.Client(ctx)
		hc.Timeout = cfg.Timeout
	}

	return &Client{
		config:  cfg,
		http:    hc,
		upload:  httpc.WithTimeout(hc, cfg.UploadTimeout),
		logger:  cfg.Logger.With("component", "backend"),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

// StartSession asks the backend to allocate a call.
func (c *Client) StartSession(ctx context.Context) (*SessionInfo, error) {
	var info SessionInfo
	if err := c.doJSON(ctx, http.MethodPost, "/session/start", struct{}{}, &info); err != nil {
		return nil, err
	}
	c.logger.Info("session allocated", "call_id", info.CallID, "ws_url", info.WSURL)
	return &info, nil
}

// TranscriptText returns the plain-text transcript of a call.
func (c *Client) TranscriptText(ctx context.Context, callID string) (string, error) {
	body, err := c.getBytes(ctx, callPath(callID, "transcript.txt"))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// TranscriptJSON returns the stored record of a call.
func (c *Client) TranscriptJSON(ctx context.Context, callID string) (*CallRecord, error) {
	var rec CallRecord
	if err := c.doJSON(ctx, http.MethodGet, callPath(callID, "transcript.json"), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Audio returns one recorded track of a call as WAV bytes.
func (c *Client) Audio(ctx context.Context, callID string, kind AudioKind) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAudioKind, kind)
	}
	return c.getBytes(ctx, callPath(callID, "audio", string(kind)+".wav"))
}

// ListCalls returns the IDs of stored calls.
func (c *Client) ListCalls(ctx context.Context) ([]string, error) {
	var resp struct {
		Calls []string `json:"calls"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/calls", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Calls, nil
}

// UploadFinal uploads the whole-call recording as the multipart field
// "file".
func (c *Client) UploadFinal(ctx context.Context, callID, filename string, data []byte) (*UploadResult, error) {
	if len(data) == 0 {
		return nil, ErrEmptyUpload
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("backend: create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("backend: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("backend: close multipart: %w", err)
	}

	path := "/upload-final/" + url.PathEscape(callID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("backend: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.upload.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: upload %s: %w", callID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, parseError(resp, path)
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("backend: decode upload response: %w", err)
	}

	c.logger.Info("recording uploaded",
		"call_id", callID,
		"filename", filename,
		"bytes", len(data),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return &result, nil
}

func callPath(callID string, parts ...string) string {
	return "/calls/" + url.PathEscape(callID) + "/" + strings.Join(parts, "/")
}

func (c *Client) getBytes(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.doWithRetry(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("backend: read %s: %w", path, err)
	}
	return body, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var (
		body        []byte
		contentType string
	)
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: marshal request: %w", err)
		}
		contentType = "application/json"
	}

	resp, err := c.doWithRetry(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}

// doWithRetry sends the request, retrying transport errors, 429 and 5xx
// for GET requests. Any non-2xx final response becomes an *APIError.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body []byte, contentType string) (*http.Response, error) {
	retries := 0
	if method == http.MethodGet {
		retries = c.config.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("backend: create request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("backend: %s %s: %w", method, path, err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			continue
		}

		if resp.StatusCode/100 == 2 {
			return resp, nil
		}

		apiErr := parseError(resp, path)
		resp.Body.Close()
		lastErr = apiErr
		if !apiErr.IsRetryable() {
			return nil, apiErr
		}
		c.logger.Warn("retrying request",
			"path", path,
			"attempt", attempt+1,
			"status", apiErr.StatusCode,
		)
	}
	return nil, lastErr
}

// parseError reads an error body. The backend reports errors as
// {"detail": "..."}.
func parseError(resp *http.Response, path string) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	message := strings.TrimSpace(string(body))
	var detail struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(body, &detail) == nil {
		if detail.Detail != "" {
			message = detail.Detail
		} else if detail.Error != "" {
			message = detail.Error
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Path:       path,
	}
}
