package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"smart-room/internal/domain"
	"smart-room/internal/infra"
)

const DefaultModel = "gemini-2.0-flash"

// updatesSchema constrains replies to an array of {id, status?, value?}.
var updatesSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"id": {
				Type:        genai.TypeString,
				Description: "The exact ID of the device",
			},
			"status": {
				Type:        genai.TypeBoolean,
				Description: "Whether the device should be on or off",
			},
			"value": {
				Type:        genai.TypeString,
				Description: "Optional new value (e.g. temperature, height, mode)",
			},
		},
		Required: []string{"id"},
	},
}

// Client interprets room commands with Gemini.
type Client struct {
	client    *genai.Client
	modelName string
	retry     infra.RetryConfig
}

func NewClient(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Client{
		client:    client,
		modelName: model,
		retry:     infra.DefaultRetryConfig(),
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// model is built per call because the system prompt carries the live device states.
func (c *Client) model(devices []domain.Device) *genai.GenerativeModel {
	model := c.client.GenerativeModel(c.modelName)
	model.SystemInstruction = genai.NewUserContent(genai.Text(infra.CommandPrompt(devices)))
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = updatesSchema
	model.SetTemperature(0.1)
	model.SetMaxOutputTokens(512)
	return model
}

func (c *Client) Interpret(ctx context.Context, text string, devices []domain.Device) ([]domain.DeviceUpdate, error) {
	model := c.model(devices)

	var reply string
	err := infra.WithRetry(ctx, c.retry, func() error {
		resp, err := model.GenerateContent(ctx, genai.Text(text))
		if err != nil {
			return fmt.Errorf("gemini generation error: %w", err)
		}
		reply = responseText(resp)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return infra.ParseDeviceUpdates(reply)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}
