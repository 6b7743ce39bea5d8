package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultTypeDelay     = 15 * time.Millisecond
	DefaultBlinkInterval = 500 * time.Millisecond

	cursorGlyph = "▋"
	eraseCursor = "\b \b"
)

// Renderer reveals a text stream one character at a time.
type Renderer struct {
	Out           io.Writer
	TypeDelay     time.Duration
	BlinkInterval time.Duration
	// Cursor enables the blinking cursor; leave it off for non-terminals.
	Cursor bool
}

// screen serialises writes from the reveal task and the cursor blinker and
// drops everything once ctx is done.
type screen struct {
	mu       sync.Mutex
	ctx      context.Context
	out      io.Writer
	cursorOn bool
}

func (s *screen) write(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	if s.cursorOn {
		text = eraseCursor + text + cursorGlyph
	}
	_, err := io.WriteString(s.out, text)
	return err
}

func (s *screen) toggleCursor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	if s.cursorOn {
		_, _ = io.WriteString(s.out, eraseCursor)
	} else {
		_, _ = io.WriteString(s.out, cursorGlyph)
	}
	s.cursorOn = !s.cursorOn
}

// hideCursor removes the cursor even after cancellation.
func (s *screen) hideCursor() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursorOn {
		_, _ = io.WriteString(s.out, eraseCursor)
		s.cursorOn = false
	}
}

// Render reads body until EOF and reveals it on r.Out. It returns the text
// revealed so far. When ctx is cancelled the body is closed, nothing more is
// written except the cursor removal, and ctx's error is returned.
func (r *Renderer) Render(ctx context.Context, body io.ReadCloser) (string, error) {
	defer body.Close()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { body.Close() })
	defer stop()

	scr := &screen{ctx: gctx, out: r.Out}
	runes := make(chan rune, 256)
	var revealed strings.Builder

	g.Go(func() error {
		defer close(runes)
		return readRunes(gctx, body, runes)
	})
	g.Go(func() error {
		return r.reveal(gctx, scr, runes, &revealed)
	})

	blinkDone := make(chan struct{})
	if r.Cursor {
		blinkCtx, cancelBlink := context.WithCancel(gctx)
		defer cancelBlink()
		go func() {
			defer close(blinkDone)
			r.blink(blinkCtx, scr)
		}()
		defer func() {
			cancelBlink()
			<-blinkDone
			scr.hideCursor()
		}()
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return revealed.String(), ctx.Err()
	}
	return revealed.String(), err
}

func (r *Renderer) reveal(ctx context.Context, scr *screen, runes <-chan rune, revealed *strings.Builder) error {
	var timer *time.Timer
	if r.TypeDelay > 0 {
		timer = time.NewTimer(r.TypeDelay)
		defer timer.Stop()
	}

	for ch := range runes {
		if timer != nil {
			select {
			case <-timer.C:
				timer.Reset(r.TypeDelay)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := scr.write(string(ch)); err != nil {
			return err
		}
		revealed.WriteRune(ch)
	}
	return ctx.Err()
}

func (r *Renderer) blink(ctx context.Context, scr *screen) {
	interval := r.BlinkInterval
	if interval <= 0 {
		interval = DefaultBlinkInterval
	}
	scr.toggleCursor()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scr.toggleCursor()
		}
	}
}

// readRunes decodes body incrementally; a rune split across reads is held
// until its remaining bytes arrive.
func readRunes(ctx context.Context, body io.Reader, out chan<- rune) error {
	buf := make([]byte, 4096)
	var pending []byte

	for {
		n, readErr := body.Read(buf)
		pending = append(pending, buf[:n]...)

		i := 0
		for i < len(pending) && utf8.FullRune(pending[i:]) {
			ch, size := utf8.DecodeRune(pending[i:])
			select {
			case out <- ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			i += size
		}
		pending = append(pending[:0], pending[i:]...)

		if errors.Is(readErr, io.EOF) {
			if len(pending) > 0 {
				select {
				case out <- utf8.RuneError:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &RequestError{Notice: NoticeNetwork, Message: NoticeNetwork.Message(), Err: readErr}
		}
	}
}
