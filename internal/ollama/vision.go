package ollama

import (
	"context"
	"encoding/base64"
	"errors"

	"github.com/kalambet/tapping/internal/optical"
)

// VisionCompleter sends extraction prompts with their image to a local
// vision model. It implements optical.Completer.
type VisionCompleter struct {
	client *Client
	model  string
}

// NewVisionCompleter returns a completer that uses model on c.
func NewVisionCompleter(c *Client, model string) *VisionCompleter {
	return &VisionCompleter{client: c, model: model}
}

// Complete asks the model to read req.Image with req.Prompt.
func (v *VisionCompleter) Complete(ctx context.Context, req optical.Request) (string, error) {
	if len(req.Image.Data) == 0 {
		return "", errors.New("ollama: empty image")
	}
	msg := Message{
		Role:    "user",
		Content: req.Prompt,
		Images:  []string{base64.StdEncoding.EncodeToString(req.Image.Data)},
	}
	return v.client.Chat(ctx, v.model, []Message{msg}, true)
}
