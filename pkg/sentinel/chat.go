package sentinel

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/samvad-hq/sentinel-go/pkg/httpclient"
)

const (
	chatPath     = "/v1/chat/completions"
	tenantHeader = "X-Tenant"
)

// ChatMessage is one turn of an OpenAI-style conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is sent to the guarded chat endpoint. Tenant, when
// set, overrides the client's WithTenant value for this call.
type ChatCompletionRequest struct {
	Model       string         `json:"model"`
	Messages    []ChatMessage  `json:"messages"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Metadata    map[string]any `json:"metadata,omitzero"`
	Tenant      string         `json:"-"`
}

// ChatCompletionResponse mirrors the OpenAI chat.completion object.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UnmarshalJSON rejects bodies missing id, object or choices.
func (r *ChatCompletionResponse) UnmarshalJSON(data []byte) error {
	type plain ChatCompletionResponse
	var wire struct {
		plain
		ID      *string       `json:"id"`
		Object  *string       `json:"object"`
		Choices *[]ChatChoice `json:"choices"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if err := requireFields(
		field{"id", wire.ID != nil},
		field{"object", wire.Object != nil},
		field{"choices", wire.Choices != nil},
	); err != nil {
		return err
	}
	*r = ChatCompletionResponse(wire.plain)
	r.ID, r.Object, r.Choices = *wire.ID, *wire.Object, *wire.Choices
	return nil
}

// gatewayError is the error envelope the gateway uses for rejected chats.
type gatewayError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ChatCompletion sends a conversation through the gateway's guarded
// OpenAI-compatible endpoint. A tenant is required, either from WithTenant or
// from req.Tenant. A gateway rejection with code "security_violation" is
// returned as KindThreatDetected.
func (c *Client) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	const op = "chat"

	tenant := strings.TrimSpace(req.Tenant)
	if tenant == "" {
		tenant = c.tenant
	}
	if tenant == "" {
		return nil, &Error{Kind: KindInvalidConfig, Op: op, Explanation: "tenant is required for chat completions"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindJSON, Op: op, Err: err}
	}
	headers := c.headers(true)
	headers[tenantHeader] = tenant

	resp, err := c.http.Do(ctx, http.MethodPost, c.baseURL+chatPath, headers, body)
	if err != nil {
		return nil, &Error{Kind: KindHTTP, Op: op, Err: err}
	}
	switch status := resp.StatusCode(); {
	case status == http.StatusUnauthorized:
		return nil, &Error{Kind: KindAuthentication, Op: op, StatusCode: status}
	case status == http.StatusTooManyRequests:
		return nil, &Error{Kind: KindRateLimit, Op: op, StatusCode: status}
	case !httpclient.IsSuccess(status):
		var ge gatewayError
		if json.Unmarshal(resp.Body(), &ge) == nil && ge.Error.Code == "security_violation" {
			return nil, &Error{Kind: KindThreatDetected, Op: op, StatusCode: status, Explanation: ge.Error.Message}
		}
		return nil, unexpectedStatus(op, resp)
	}

	var out ChatCompletionResponse
	if err := decode(op, resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
