// Package client is the command-line counterpart of the web prompt form: it
// submits prompts to the API, classifies failures into user notices and
// renders streamed text with a typewriter effect.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/zhouzirui/genx/backend/internal/model/generation"
)

// Notice is the user-facing outcome of a failed request.
type Notice int

const (
	NoticeNone Notice = iota
	NoticeUnauthorized
	NoticeError
	NoticeNetwork
	NoticeValidation
)

// Message returns the text shown for n.
func (n Notice) Message() string {
	switch n {
	case NoticeUnauthorized:
		return "You are unauthorized! Login before generating result"
	case NoticeError:
		return "Something went wrong. Please try again."
	case NoticeNetwork:
		return "Failed to connect to server"
	default:
		return ""
	}
}

// RequestError is a request that failed with something to tell the user.
type RequestError struct {
	Notice  Notice
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RequestError) Unwrap() error { return e.Err }

// Classify maps err to the notice to show. Cancellation maps to NoticeNone.
func Classify(err error) Notice {
	if err == nil || errors.Is(err, context.Canceled) {
		return NoticeNone
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Notice
	}
	return NoticeError
}

// Client talks to the GenX API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New returns a client for baseURL authenticating with token.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

func (c *Client) do(ctx context.Context, method, path, accept string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &RequestError{Notice: NoticeNetwork, Message: NoticeNetwork.Message(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func statusError(resp *http.Response) *RequestError {
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(data))
	}
	if payload.Error == "" {
		payload.Error = http.StatusText(resp.StatusCode)
	}

	notice := NoticeError
	if resp.StatusCode == http.StatusUnauthorized {
		notice = NoticeUnauthorized
	}
	return &RequestError{Notice: notice, Status: resp.StatusCode, Message: payload.Error}
}

// StreamText submits prompt in streaming mode and returns the response body.
// The caller must close it.
func (c *Client) StreamText(ctx context.Context, prompt string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodPost, "/generate/text", "text/plain", map[string]any{
		"prompt": prompt,
		"stream": true,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GenerateImage submits prompt and returns the image URL.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/generate/image", "application/json", map[string]string{"prompt": prompt})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", &RequestError{Notice: NoticeError, Status: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return payload.URL, nil
}

// Records lists the caller's generation records, newest first.
func (c *Client) Records(ctx context.Context) ([]generation.Record, error) {
	resp, err := c.do(ctx, http.MethodGet, "/records", "application/json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var list []generation.Record
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, &RequestError{Notice: NoticeError, Status: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return list, nil
}
