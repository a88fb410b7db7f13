package openai

import (
	"context"
	"fmt"
)

// Complete sends a system and user prompt and returns the model's JSON reply.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if user == "" {
		return "", ErrEmptyText
	}

	var reply string
	err := c.retry(ctx, func() error {
		var err error
		reply, err = c.api.CreateChatCompletion(ctx, system, user)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}
	return reply, nil
}
