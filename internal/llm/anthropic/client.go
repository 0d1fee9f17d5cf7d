// Package anthropic implements llm.Completer on top of the Anthropic Claude
// Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/concertlabs/concert/internal/llm"
)

// MessagesClient is the subset of the SDK client the adapter needs. It is
// satisfied by *sdk.MessageService so tests can substitute a stub.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client translates llm.Params into Messages API calls.
type Client struct {
	msg       MessagesClient
	maxTokens int64
}

// New builds a client from an SDK messages service.
func New(msg MessagesClient, defaultMaxTokens int64) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic messages client is required")
	}
	if defaultMaxTokens <= 0 {
		defaultMaxTokens = 4096
	}
	return &Client{msg: msg, maxTokens: defaultMaxTokens}, nil
}

// NewFromAPIKey constructs a client using the default SDK HTTP transport.
func NewFromAPIKey(apiKey string, defaultMaxTokens int64) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, defaultMaxTokens)
}

// Complete issues one non-streaming Messages.New request. Text blocks in the
// response are concatenated into the result content.
func (c *Client) Complete(ctx context.Context, p llm.Params) (*llm.Result, error) {
	if p.Model == "" {
		return nil, errors.New("model identifier is required")
	}

	msgs := make([]sdk.MessageParam, 0, len(p.Messages))
	for _, m := range p.Messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	params := sdk.MessageNewParams{
		MaxTokens: maxTokens,
		Messages:  msgs,
		Model:     sdk.Model(p.Model),
	}
	if p.System != "" {
		params.System = []sdk.TextBlockParam{{Text: p.System}}
	}
	if p.Temperature > 0 {
		params.Temperature = sdk.Float(p.Temperature)
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &llm.Result{
		Content:    sb.String(),
		StopReason: string(msg.StopReason),
		Usage: llm.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}
