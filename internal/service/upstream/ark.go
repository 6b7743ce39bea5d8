package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ArkGenerator 通过 eino 聊天模型生成文本，作为 Pollinations 之外的可选后端。
type ArkGenerator struct {
	chatModel model.BaseChatModel
	modelName string
	timeout   time.Duration
}

// NewArkGenerator wraps an already constructed chat model.
func NewArkGenerator(chatModel model.BaseChatModel, modelName string, timeout time.Duration) *ArkGenerator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ArkGenerator{chatModel: chatModel, modelName: modelName, timeout: timeout}
}

func (g *ArkGenerator) generation(seed int) *Generation {
	return &Generation{URL: "ark://" + g.modelName, Seed: seed}
}

func (g *ArkGenerator) wrap(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), ErrTimeout) {
		return ErrTimeout
	}
	return fmt.Errorf("%w: %w", ErrRequest, err)
}

// StreamText streams message deltas as raw UTF-8 chunks. The timeout bounds
// the wait for the model to start streaming.
func (g *ArkGenerator) StreamText(ctx context.Context, prompt string, seed int) (*Generation, *schema.StreamReader[[]byte], error) {
	gen := g.generation(seed)

	ctx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(g.timeout, func() { cancel(ErrTimeout) })

	stream, err := g.chatModel.Stream(ctx, []*schema.Message{schema.UserMessage(prompt)})
	timer.Stop()
	if err != nil {
		err = g.wrap(ctx, err)
		cancel(nil)
		log.Printf("[upstream] ark stream failed: %v", err)
		return gen, nil, err
	}

	sr, sw := schema.Pipe[[]byte](pipeCapacity)
	go func() {
		defer sw.Close()
		defer cancel(nil)
		defer stream.Close()

		for {
			msg, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				sw.Send(nil, g.wrap(ctx, err))
				return
			}
			if msg == nil || msg.Content == "" {
				continue
			}
			if closed := sw.Send([]byte(msg.Content), nil); closed {
				return
			}
		}
	}()
	return gen, sr, nil
}

// Text returns the full model answer; the timeout covers the whole call.
func (g *ArkGenerator) Text(ctx context.Context, prompt string, seed int) (*Generation, string, error) {
	gen := g.generation(seed)

	ctx, cancel := context.WithCancelCause(ctx)
	timer := time.AfterFunc(g.timeout, func() { cancel(ErrTimeout) })
	defer func() {
		timer.Stop()
		cancel(nil)
	}()

	msg, err := g.chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		err = g.wrap(ctx, err)
		log.Printf("[upstream] ark generate failed: %v", err)
		return gen, "", err
	}
	if msg == nil || msg.Content == "" {
		return gen, "", ErrNoBody
	}
	return gen, msg.Content, nil
}
