// Package upstream talks to the external generation providers.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

const (
	DefaultTextBaseURL  = "https://text.pollinations.ai"
	DefaultImageBaseURL = "https://image.pollinations.ai"
	DefaultTimeout      = 10 * time.Second

	// maxTextBytes caps the buffered text variant.
	maxTextBytes = 4 << 20
	// maxErrorBody caps how much of a failed response is kept for diagnostics.
	maxErrorBody = 512
	chunkSize    = 32 << 10
	pipeCapacity = 8
)

// Generation identifies one upstream call.
type Generation struct {
	URL  string
	Seed int
}

// Options configures a Client. Zero values fall back to the defaults.
type Options struct {
	TextBaseURL  string
	ImageBaseURL string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// Client issues prompt requests against the Pollinations-style providers.
type Client struct {
	textBase   string
	imageBase  string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient 创建上游客户端。
func NewClient(opts Options) *Client {
	c := &Client{
		textBase:   opts.TextBaseURL,
		imageBase:  opts.ImageBaseURL,
		timeout:    opts.Timeout,
		httpClient: opts.HTTPClient,
	}
	if c.textBase == "" {
		c.textBase = DefaultTextBaseURL
	}
	if c.imageBase == "" {
		c.imageBase = DefaultImageBaseURL
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c
}

// TextURL returns the text provider URL for prompt and seed.
func (c *Client) TextURL(prompt string, seed int) string {
	return BuildURL(c.textBase, prompt, seed)
}

// ImageURL returns the image provider URL for prompt and seed.
func (c *Client) ImageURL(prompt string, seed int) string {
	return BuildURL(c.imageBase, prompt, seed)
}

// call is one in-flight upstream request with its timeout timer.
type call struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	timer  *time.Timer
	resp   *http.Response
}

// release stops the timer and aborts whatever is still in flight.
func (c *call) release() {
	c.timer.Stop()
	c.cancel(nil)
}

// wrap turns a transport or read error into one of the package sentinels.
func (c *call) wrap(err error) error {
	if errors.Is(context.Cause(c.ctx), ErrTimeout) {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %w", ErrRequest, err)
}

func (c *Client) get(ctx context.Context, url string) (*call, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	cl := &call{
		ctx:    ctx,
		cancel: cancel,
		timer:  time.AfterFunc(c.timeout, func() { cancel(ErrTimeout) }),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cl.release()
		return nil, fmt.Errorf("%w: %w", ErrRequest, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = cl.wrap(err)
		cl.release()
		return nil, err
	}
	cl.resp = resp

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cl.release()
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return cl, nil
}

func hasNoBody(resp *http.Response) bool {
	return resp.Body == http.NoBody || resp.ContentLength == 0
}

// StreamText opens the text endpoint and relays its body chunk by chunk.
// The timeout bounds the wait for response headers only; cancelling ctx or
// closing the returned reader stops the producer and closes the body.
func (c *Client) StreamText(ctx context.Context, prompt string, seed int) (*Generation, *schema.StreamReader[[]byte], error) {
	gen := &Generation{URL: c.TextURL(prompt, seed), Seed: seed}

	cl, err := c.get(ctx, gen.URL)
	if err != nil {
		log.Printf("[upstream] text stream failed: %v", err)
		return gen, nil, err
	}
	cl.timer.Stop()
	if hasNoBody(cl.resp) {
		cl.resp.Body.Close()
		cl.release()
		return gen, nil, ErrNoBody
	}

	sr, sw := schema.Pipe[[]byte](pipeCapacity)
	go pump(cl, sw)
	return gen, sr, nil
}

// pump copies the response body into the pipe until EOF, a read error or the
// consumer closing its end.
func pump(cl *call, sw *schema.StreamWriter[[]byte]) {
	defer sw.Close()
	defer cl.release()
	defer cl.resp.Body.Close()

	buf := make([]byte, chunkSize)
	for {
		n, err := cl.resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if closed := sw.Send(chunk, nil); closed {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			sw.Send(nil, cl.wrap(err))
			return
		}
	}
}

// Text fetches the full text response. The timeout covers the whole call.
func (c *Client) Text(ctx context.Context, prompt string, seed int) (*Generation, string, error) {
	gen := &Generation{URL: c.TextURL(prompt, seed), Seed: seed}

	cl, err := c.get(ctx, gen.URL)
	if err != nil {
		log.Printf("[upstream] text request failed: %v", err)
		return gen, "", err
	}
	defer cl.release()
	defer cl.resp.Body.Close()

	if hasNoBody(cl.resp) {
		return gen, "", ErrNoBody
	}

	body, err := io.ReadAll(io.LimitReader(cl.resp.Body, maxTextBytes+1))
	if err != nil {
		return gen, "", cl.wrap(err)
	}
	if len(body) > maxTextBytes {
		log.Printf("[upstream] text response over %d bytes rejected", maxTextBytes)
		return gen, "", ErrTooLarge
	}
	if len(body) == 0 {
		return gen, "", ErrNoBody
	}
	return gen, string(body), nil
}

// Image requests the image URL and confirms the provider answered with a
// success status. The body is drained and discarded; the URL is the artifact.
func (c *Client) Image(ctx context.Context, prompt string, seed int) (*Generation, error) {
	gen := &Generation{URL: c.ImageURL(prompt, seed), Seed: seed}

	cl, err := c.get(ctx, gen.URL)
	if err != nil {
		log.Printf("[upstream] image request failed: %v", err)
		return gen, err
	}
	defer cl.release()
	defer cl.resp.Body.Close()

	if _, err := io.Copy(io.Discard, io.LimitReader(cl.resp.Body, maxTextBytes)); err != nil {
		return gen, cl.wrap(err)
	}
	return gen, nil
}
