package transformer

import "fmt"

// anthropicRequestToGemini builds a Gemini generateContent body directly
// from an Anthropic Messages request, grounded on providers/gemini.go's
// convertMessagesToGemini: the assistant role is remapped to "model" and a
// system message is folded into the first user turn rather than sent as a
// separate field, since the target upstream here is Gemini's own
// generateContent shape (not an OpenAI-compatible one).
func anthropicRequestToGemini(body map[string]any) (map[string]any, error) {
	var systemText string
	if system, ok := body["system"].(string); ok {
		systemText = system
	}

	var contents []any
	rawMessages, _ := body["messages"].([]any)
	for _, rm := range rawMessages {
		msg, ok := rm.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		if role == "assistant" {
			role = "model"
		}
		text := flattenAnthropicContent(msg["content"])
		if role == "user" && systemText != "" {
			text = systemText + "\n" + text
			systemText = ""
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []any{map[string]any{"text": text}},
		})
	}

	out := map[string]any{
		"contents": contents,
		"model":    body["model"],
	}
	genConfig := map[string]any{}
	if mt, ok := body["max_tokens"]; ok {
		genConfig["maxOutputTokens"] = mt
	}
	if t, ok := body["temperature"]; ok {
		genConfig["temperature"] = t
	}
	if len(genConfig) > 0 {
		out["generationConfig"] = genConfig
	}
	if stream, _ := body["stream"].(bool); stream {
		out["stream"] = true
	}
	return out, nil
}

// geminiResponseToAnthropic converts a Gemini generateContent response back
// into Anthropic Messages response shape.
func geminiResponseToAnthropic(body map[string]any) (map[string]any, error) {
	candidates, _ := body["candidates"].([]any)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("transformer: gemini response has no candidates")
	}
	first, ok := candidates[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("transformer: malformed gemini candidate")
	}
	contentField, _ := first["content"].(map[string]any)
	parts, _ := contentField["parts"].([]any)
	var text string
	for _, p := range parts {
		if m, ok := p.(map[string]any); ok {
			if t, ok := m["text"].(string); ok {
				text += t
			}
		}
	}

	stopReason := "end_turn"
	if fr, _ := first["finishReason"].(string); fr == "MAX_TOKENS" {
		stopReason = "max_tokens"
	}

	inputTokens, outputTokens := 0, 0
	if usage, ok := body["usageMetadata"].(map[string]any); ok {
		inputTokens = toInt(usage["promptTokenCount"])
		outputTokens = toInt(usage["candidatesTokenCount"])
	}

	return map[string]any{
		"id":   body["model"],
		"type": "message",
		"role": "assistant",
		"content": []any{
			map[string]any{"type": "text", "text": text},
		},
		"model":       body["model"],
		"stop_reason": stopReason,
		"usage": map[string]any{
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
		},
	}, nil
}
