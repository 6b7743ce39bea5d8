package generation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	model "github.com/zhouzirui/genx/backend/internal/model/generation"
	"github.com/zhouzirui/genx/backend/internal/service/upstream"
)

const (
	DefaultMinPromptLength = 7
	DefaultMaxPromptLength = 500
)

var (
	ErrInvalidPrompt = errors.New("invalid prompt")
	ErrUserRequired  = errors.New("user id is required")
)

// InvalidPromptError carries the message shown to the caller.
type InvalidPromptError struct {
	Reason string
}

func (e *InvalidPromptError) Error() string { return e.Reason }

func (e *InvalidPromptError) Unwrap() error { return ErrInvalidPrompt }

// TextGenerator produces text either as a byte stream or buffered.
type TextGenerator interface {
	StreamText(ctx context.Context, prompt string, seed int) (*upstream.Generation, *schema.StreamReader[[]byte], error)
	Text(ctx context.Context, prompt string, seed int) (*upstream.Generation, string, error)
}

// ImageGenerator confirms an image generation and returns its URL.
type ImageGenerator interface {
	Image(ctx context.Context, prompt string, seed int) (*upstream.Generation, error)
}

// RecordStore persists generation records.
type RecordStore interface {
	CreateRecord(ctx context.Context, create *model.Record) (*model.Record, error)
	ListRecords(ctx context.Context, userID string) ([]*model.Record, error)
}

// Options tunes validation and seeding. Zero values use the defaults.
type Options struct {
	MinPromptLength int
	MaxPromptLength int
	Seed            func() int
}

// Service orchestrates prompt validation, upstream calls and persistence.
type Service struct {
	text    TextGenerator
	image   ImageGenerator
	records RecordStore
	min     int
	max     int
	seed    func() int
}

// NewService 组装生成服务。
func NewService(text TextGenerator, image ImageGenerator, records RecordStore, opts Options) *Service {
	s := &Service{
		text:    text,
		image:   image,
		records: records,
		min:     opts.MinPromptLength,
		max:     opts.MaxPromptLength,
		seed:    opts.Seed,
	}
	if s.min <= 0 {
		s.min = DefaultMinPromptLength
	}
	if s.max < s.min {
		s.max = max(DefaultMaxPromptLength, s.min)
	}
	if s.seed == nil {
		s.seed = NewSeed
	}
	return s
}

// NewSeed draws a seed uniformly from [MinSeed, MaxSeed].
func NewSeed() int {
	return rand.Intn(model.MaxSeed-model.MinSeed+1) + model.MinSeed
}

// ValidatePrompt trims prompt and checks its length in characters.
func ValidatePrompt(prompt string, minLen, maxLen int) (string, error) {
	trimmed := strings.TrimSpace(prompt)
	n := utf8.RuneCountInString(trimmed)
	switch {
	case n == 0:
		return "", &InvalidPromptError{Reason: "prompt must not be blank"}
	case n < minLen:
		return "", &InvalidPromptError{Reason: fmt.Sprintf("prompt must be at least %d characters", minLen)}
	case n > maxLen:
		return "", &InvalidPromptError{Reason: fmt.Sprintf("prompt must be at most %d characters", maxLen)}
	}
	return trimmed, nil
}

func (s *Service) prepare(prompt string) (string, int, error) {
	trimmed, err := ValidatePrompt(prompt, s.min, s.max)
	if err != nil {
		return "", 0, err
	}
	return trimmed, s.seed(), nil
}

// StreamText validates prompt and opens a text stream. The caller owns the
// returned reader and must close it.
func (s *Service) StreamText(ctx context.Context, prompt string) (*upstream.Generation, *schema.StreamReader[[]byte], error) {
	prompt, seed, err := s.prepare(prompt)
	if err != nil {
		return nil, nil, err
	}
	gen, sr, err := s.text.StreamText(ctx, prompt, seed)
	if err != nil {
		return nil, nil, fmt.Errorf("stream text: %w", err)
	}
	return gen, sr, nil
}

// TextResult is a buffered text generation.
type TextResult struct {
	URL  string
	Seed int
	Text string
}

// GenerateText validates prompt and returns the full upstream text.
func (s *Service) GenerateText(ctx context.Context, prompt string) (*TextResult, error) {
	prompt, seed, err := s.prepare(prompt)
	if err != nil {
		return nil, err
	}
	gen, text, err := s.text.Text(ctx, prompt, seed)
	if err != nil {
		return nil, fmt.Errorf("generate text: %w", err)
	}
	return &TextResult{URL: gen.URL, Seed: gen.Seed, Text: text}, nil
}

// GenerateImage validates prompt, confirms the upstream generation and then
// writes exactly one record owned by userID. Nothing is written on failure.
func (s *Service) GenerateImage(ctx context.Context, userID, prompt string) (*model.Record, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	prompt, seed, err := s.prepare(prompt)
	if err != nil {
		return nil, err
	}

	gen, err := s.image.Image(ctx, prompt, seed)
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}

	record, err := s.records.CreateRecord(ctx, &model.Record{
		Prompt: prompt,
		URL:    gen.URL,
		Seed:   gen.Seed,
		UserID: userID,
	})
	if err != nil {
		return nil, fmt.Errorf("persist record: %w", err)
	}
	log.Printf("[generate] image record=%s user=%s seed=%d", record.ID, userID, record.Seed)
	return record, nil
}

// ListRecords returns userID's records, newest first.
func (s *Service) ListRecords(ctx context.Context, userID string) ([]*model.Record, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	return s.records.ListRecords(ctx, userID)
}
