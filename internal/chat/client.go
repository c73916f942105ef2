// Package chat wraps the Groq chat-completions API behind a text-in/text-out
// call with the current rates injected into the system prompt.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const systemInstruction = `Eres el asistente oficial de CriptoGuíaVE, una plataforma educativa sobre criptomonedas enfocada en Venezuela.

Responde EXCLUSIVAMENTE preguntas sobre criptomonedas, wallets, exchanges, cómo comprar/vender cripto en Venezuela, seguridad, tasas de cambio y remesas con cripto. Si te preguntan otra cosa, recházalo amablemente.

Mantén respuestas concisas (máximo 3-4 oraciones), en español y en texto plano, considerando siempre el contexto venezolano (bolívares, dólar paralelo).`

// Message is one prior exchange turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options parameterise the Groq client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client calls the Groq OpenAI-compatible chat endpoint.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a chat client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "chat_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Send forwards the user message plus prior history to the model, with the
// rate context appended to the system prompt, and returns the reply text.
func (c *Client) Send(ctx context.Context, message string, priorTurns []Message, rateContext string) (string, error) {
	if c.opts.APIKey == "" {
		return "", errors.New("chat api key not configured")
	}
	if strings.TrimSpace(message) == "" {
		return "", errors.New("message must not be empty")
	}

	system := systemInstruction
	if rateContext != "" {
		system += "\n\nTasas actuales del mercado:\n" + rateContext
	}

	messages := make([]Message, 0, len(priorTurns)+2)
	messages = append(messages, Message{Role: "system", Content: system})
	messages = append(messages, priorTurns...)
	messages = append(messages, Message{Role: "user", Content: message})

	model := c.opts.Model
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	maxTokens := c.opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}

	reqPayload := completionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: c.opts.Temperature,
		MaxTokens:   maxTokens,
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", parseAPIError(resp.StatusCode, payloadBytes)
	}

	var completionRes completionResponse
	if err := json.Unmarshal(payloadBytes, &completionRes); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(completionRes.Choices) == 0 || completionRes.Choices[0].Message.Content == "" {
		return "", errors.New("chat api returned no choices")
	}

	return completionRes.Choices[0].Message.Content, nil
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func parseAPIError(status int, payload []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("chat api error (%d): %s", status, apiErr.Error.Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("chat api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("chat api error (%d)", status)
}
