package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// sseChannel streams an OpenAI-style chat completion over server-sent
// events. Each data event carries a content delta; the literal "[DONE]"
// sentinel (or the stream closing) marks clean completion.
type sseChannel struct {
	*streamState
	cancel context.CancelFunc
}

type sseChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float32   `json:"temperature,omitempty"`
}

type sseChatEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func openSSEChannel(ctx context.Context, provider ProviderID, messages []Message, set OpenAISettings) *sseChannel {
	ctx, cancel := context.WithCancel(ctx)
	c := &sseChannel{
		streamState: newStreamState(RoleAssistant, provider),
		cancel:      cancel,
	}
	go c.run(ctx, messages, set)
	return c
}

func (c *sseChannel) Cancel() {
	// Suppress deliveries before aborting the request so the scanner's
	// context-cancellation error cannot fire a terminal callback.
	c.markCancelled()
	c.cancel()
}

func (c *sseChannel) run(ctx context.Context, messages []Message, set OpenAISettings) {
	body, err := json.Marshal(sseChatRequest{
		Model:       set.Model,
		Messages:    messages,
		Stream:      true,
		Temperature: set.Temperature,
	})
	if err != nil {
		c.fail(err.Error())
		return
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(set.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.fail(err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+set.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout; the stream lives until [DONE] or Cancel.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.fail(err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		c.fail(msg)
		return
	}

	sc := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			c.finish()
			return
		}

		var event sseChatEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			c.fail(err.Error())
			return
		}
		if event.Error != nil && event.Error.Message != "" {
			c.fail(event.Error.Message)
			return
		}
		grew := false
		for _, choice := range event.Choices {
			if choice.Delta.Content != "" {
				c.append(choice.Delta.Content)
				grew = true
			}
		}
		if grew {
			c.emit(false, false)
		}
	}

	if err := sc.Err(); err != nil {
		c.fail(err.Error())
		return
	}
	// Stream closed without the sentinel: treated as clean completion.
	c.finish()
}
