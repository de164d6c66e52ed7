package transformer

import "fmt"

// anthropicRequestToOpenAI folds an Anthropic Messages request body (map
// keys: model, max_tokens, system, messages, tools, stream) into an
// OpenAI-shaped chat completion body (system becomes a leading
// role:"system" message), mirroring the message-array reshaping the
// teacher's providers/anthropic.go performs in the opposite direction.
func anthropicRequestToOpenAI(body map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}

	var messages []any
	if system, ok := body["system"]; ok {
		switch s := system.(type) {
		case string:
			if s != "" {
				messages = append(messages, map[string]any{"role": "system", "content": s})
			}
		case []any:
			var text string
			for _, block := range s {
				if m, ok := block.(map[string]any); ok {
					if t, ok := m["text"].(string); ok {
						text += t
					}
				}
			}
			if text != "" {
				messages = append(messages, map[string]any{"role": "system", "content": text})
			}
		}
		delete(out, "system")
	}

	rawMessages, _ := body["messages"].([]any)
	for _, rm := range rawMessages {
		msg, ok := rm.(map[string]any)
		if !ok {
			continue
		}
		messages = append(messages, map[string]any{
			"role":    msg["role"],
			"content": flattenAnthropicContent(msg["content"]),
		})
	}
	out["messages"] = messages
	return out, nil
}

// flattenAnthropicContent turns Anthropic's content-block array shape (or a
// bare string) into a plain string, the OpenAI-shaped Message.Content form
// providers/provider.go's Message type natively supports.
func flattenAnthropicContent(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var text string
		for _, block := range c {
			m, ok := block.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := m["type"].(string); t == "text" || t == "" {
				if s, ok := m["text"].(string); ok {
					text += s
				}
			}
		}
		return text
	default:
		return ""
	}
}

// openAIResponseToAnthropic converts an OpenAI-shaped chat completion
// response body back into Anthropic Messages response shape, grounded on
// providers/anthropic.go's Response struct (id, type, role, content blocks,
// model, usage).
func openAIResponseToAnthropic(body map[string]any) (map[string]any, error) {
	choices, _ := body["choices"].([]any)
	if len(choices) == 0 {
		return nil, fmt.Errorf("transformer: openai response has no choices")
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("transformer: malformed choice entry")
	}
	message, _ := first["message"].(map[string]any)
	role, _ := message["role"].(string)
	if role == "" {
		role = "assistant"
	}
	content, _ := message["content"].(string)

	stopReason := "end_turn"
	if fr, _ := first["finish_reason"].(string); fr == "length" {
		stopReason = "max_tokens"
	}

	usage, _ := body["usage"].(map[string]any)
	inputTokens, outputTokens := 0, 0
	if usage != nil {
		inputTokens = toInt(usage["prompt_tokens"])
		outputTokens = toInt(usage["completion_tokens"])
	}

	return map[string]any{
		"id":   body["id"],
		"type": "message",
		"role": role,
		"content": []any{
			map[string]any{"type": "text", "text": content},
		},
		"model":       body["model"],
		"stop_reason": stopReason,
		"usage": map[string]any{
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
		},
	}, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
