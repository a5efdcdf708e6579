package provider

import (
	"context"
	"errors"
	"time"
)

type Request struct {
	Endpoint  string
	Model     string
	Prompt    string
	MaxTokens int
}

type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	CachedTokens int
}

// CallFunc is the injected inference call. The core relies on nothing
// beyond the taxonomy in errors.go and token counts on success.
type CallFunc func(ctx context.Context, req Request) (Response, error)

// Client wraps a CallFunc with a hard timeout so a stalled provider cannot
// hold a scheduler slot indefinitely.
type Client struct {
	call    CallFunc
	timeout time.Duration
}

func NewClient(call CallFunc, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{call: call, timeout: timeout}
}

func (c *Client) Call(ctx context.Context, req Request) (Response, error) {
	if c.call == nil {
		return Response{}, errors.New("provider call not configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.call(callCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Response{}, &Error{Kind: KindNetwork, Message: "provider call timed out"}
		}
		return Response{}, err
	}
	return resp, nil
}
