// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/scribeflow/scribeflow/core"
	"github.com/scribeflow/scribeflow/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model
// interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

var _ model.Model = (*Model)(nil)

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model via the Messages API. The call is made
// non-streaming regardless of req.Stream; the single final response carries
// the full text so the loop's delta accumulation still sees all content.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			Messages:    m.buildMessages(req),
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(m.opts.Temperature),
		}
		if req.Instructions != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
		}
		if len(req.Tools) > 0 {
			params.Tools = m.buildTools(req.Tools)
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		final := model.Response{FinishReason: "stop"}
		if resp.StopReason != "" {
			final.FinishReason = string(resp.StopReason)
		}
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				final.TextDelta += block.AsText().Text
			case "tool_use":
				toolBlock := block.AsToolUse()
				args := ""
				if toolBlock.Input != nil {
					if argsBytes, err := json.Marshal(toolBlock.Input); err == nil {
						args = string(argsBytes)
					}
				}
				final.ToolCalls = append(final.ToolCalls, model.ToolCall{
					ID:        toolBlock.ID,
					Name:      toolBlock.Name,
					Arguments: args,
				})
			}
		}
		out <- final
	}()

	return out, errCh
}

// buildMessages converts thread messages to the Anthropic message format,
// embedding resolved tool results right after the tool_use blocks that
// requested them.
func (m *Model) buildMessages(req model.Request) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleUser:
			if text := msg.Text(); text != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		case core.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			var results []anthropic.ContentBlockParamUnion
			for _, p := range msg.Parts {
				switch part := p.(type) {
				case core.TextPart:
					if part.Text != "" {
						content = append(content, anthropic.NewTextBlock(part.Text))
					}
				case core.ToolPart:
					var input any
					if part.Arguments != "" {
						if err := json.Unmarshal([]byte(part.Arguments), &input); err != nil {
							input = part.Arguments
						}
					}
					content = append(content, anthropic.NewToolUseBlock(part.CallID, input, part.Name))
					switch part.Status {
					case core.ToolStatusDone:
						results = append(results, anthropic.NewToolResultBlock(part.CallID, part.Result, false))
					case core.ToolStatusError:
						results = append(results, anthropic.NewToolResultBlock(part.CallID, part.Error, true))
					}
				}
			}
			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
			// Tool results must arrive in a user-role message per the API.
			if len(results) > 0 {
				messages = append(messages, anthropic.NewUserMessage(results...))
			}
		}
	}
	return messages
}

// buildTools converts tool definitions to the Anthropic tool format.
func (m *Model) buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if tool.Parameters != nil {
			if properties, exists := tool.Parameters["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := tool.Parameters["required"]; exists {
				switch req := required.(type) {
				case []string:
					inputSchema.Required = req
				case []any:
					for _, r := range req {
						if s, ok := r.(string); ok {
							inputSchema.Required = append(inputSchema.Required, s)
						}
					}
				}
			}
		}
		anthropicTools[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
	}
	return anthropicTools
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
