package server

import (
	"fmt"

	"github.com/openai/openai-go"
)

// bodyToOpenAIParams converts the generic WireRequest.Body map the
// transformer/protocol/servercompat stages assembled into the openai-go
// SDK's typed request params, the way providers/openai.go's
// buildOpenAIMessages/applyOpenAIParams build them from a gateway Request.
func bodyToOpenAIParams(body map[string]any) (*openai.ChatCompletionNewParams, error) {
	model, _ := body["model"].(string)
	if model == "" {
		return nil, fmt.Errorf("request body has no model")
	}

	rawMessages, _ := body["messages"].([]any)
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(rawMessages))
	for _, rm := range rawMessages {
		msg, ok := rm.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		content, _ := msg["content"].(string)
		switch role {
		case "user":
			messages = append(messages, openai.UserMessage(content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(content))
		case "system":
			messages = append(messages, openai.SystemMessage(content))
		case "tool":
			toolCallID, _ := msg["tool_call_id"].(string)
			messages = append(messages, openai.ToolMessage(content, toolCallID))
		default:
			messages = append(messages, openai.UserMessage(content))
		}
	}

	params := &openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}

	if v, ok := body["temperature"]; ok {
		params.Temperature = openai.Float(toFloat(v))
	}
	if v, ok := body["top_p"]; ok {
		params.TopP = openai.Float(toFloat(v))
	}
	if v, ok := body["max_tokens"]; ok {
		params.MaxTokens = openai.Int(int64(toInt(v)))
	}
	if v, ok := body["presence_penalty"]; ok {
		params.PresencePenalty = openai.Float(toFloat(v))
	}
	if v, ok := body["frequency_penalty"]; ok {
		params.FrequencyPenalty = openai.Float(toFloat(v))
	}
	if v, ok := body["user"].(string); ok && v != "" {
		params.User = openai.String(v)
	}

	return params, nil
}

// openAICompletionToBody converts an SDK ChatCompletion back into the
// generic map shape the rest of the pipeline (and the response-direction
// transformer step) operates on.
func openAICompletionToBody(completion *openai.ChatCompletion) (map[string]any, error) {
	if completion == nil {
		return nil, fmt.Errorf("nil completion")
	}
	choices := make([]any, 0, len(completion.Choices))
	for _, c := range completion.Choices {
		choices = append(choices, map[string]any{
			"index": int(c.Index),
			"message": map[string]any{
				"role":    string(c.Message.Role),
				"content": c.Message.Content,
			},
			"finish_reason": string(c.FinishReason),
		})
	}
	return map[string]any{
		"id":      completion.ID,
		"model":   completion.Model,
		"choices": choices,
		"usage": map[string]any{
			"prompt_tokens":     int(completion.Usage.PromptTokens),
			"completion_tokens": int(completion.Usage.CompletionTokens),
			"total_tokens":      int(completion.Usage.TotalTokens),
		},
	}, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
