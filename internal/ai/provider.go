package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ProviderID identifies a selectable backend. The set is closed: transports
// are dispatched by a switch in OpenChannel rather than runtime registration.
type ProviderID string

const (
	// ProviderOpenAI streams completions over HTTP server-sent events.
	ProviderOpenAI ProviderID = "openai"
	// ProviderSpark streams completions over a WebSocket connection.
	ProviderSpark ProviderID = "spark"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is the only request shape providers require: an ordered list of
// role/content pairs.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Settings carries per-provider configuration for one channel open. It is a
// value deliberately passed into OpenChannel at call time; callers re-read it
// from their config source on every turn.
type Settings struct {
	Provider ProviderID
	OpenAI   OpenAISettings
	Spark    SparkSettings
}

type OpenAISettings struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
}

type SparkSettings struct {
	URL         string
	AppID       string
	APIKey      string
	APISecret   string
	Temperature float32
}

// ErrMissingCredential is returned before any network I/O when the selected
// provider has no key material configured. Callers surface it as a prompt to
// collect the credential, not as a failed turn.
var ErrMissingCredential = errors.New("ai: provider credential not configured")

// ErrUnknownProvider is returned for a ProviderID outside the closed set.
var ErrUnknownProvider = errors.New("ai: unknown provider")

// OpenChannel dispatches one generation request and returns the live channel.
// The returned channel has already started its transport; subscribe promptly.
func OpenChannel(ctx context.Context, provider ProviderID, messages []Message, set Settings) (StreamChannel, error) {
	switch provider {
	case ProviderOpenAI:
		if strings.TrimSpace(set.OpenAI.APIKey) == "" {
			return nil, ErrMissingCredential
		}
		return openSSEChannel(ctx, provider, messages, set.OpenAI), nil

	case ProviderSpark:
		s := set.Spark
		if strings.TrimSpace(s.AppID) == "" || strings.TrimSpace(s.APIKey) == "" || strings.TrimSpace(s.APISecret) == "" {
			return nil, ErrMissingCredential
		}
		return openSparkChannel(ctx, provider, messages, s), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
}
