package server

// anthropicStreamConverter reshapes a flat sequence of assistant-text deltas
// into the Anthropic Messages streaming event sequence (message_start ->
// content_block_start -> content_block_delta* -> content_block_stop ->
// message_delta -> message_stop), so the front door always emits
// Anthropic-compatible events regardless of which upstream wire protocol
// produced the underlying text (spec §6).
type anthropicStreamConverter struct {
	model     string
	started   bool
	blockOpen bool
}

func newAnthropicStreamConverter(model string) *anthropicStreamConverter {
	return &anthropicStreamConverter{model: model}
}

// Delta returns the events a single upstream text chunk produces: the
// one-time message/content-block open events on the first call, followed by
// a content_block_delta for any non-empty text.
func (c *anthropicStreamConverter) Delta(text string) []map[string]any {
	var events []map[string]any
	if !c.started {
		events = append(events,
			map[string]any{
				"type": "message_start",
				"message": map[string]any{
					"type":    "message",
					"role":    "assistant",
					"model":   c.model,
					"content": []any{},
				},
			},
			map[string]any{
				"type":          "content_block_start",
				"index":         0,
				"content_block": map[string]any{"type": "text", "text": ""},
			},
		)
		c.started = true
		c.blockOpen = true
	}
	if text == "" {
		return events
	}
	return append(events, map[string]any{
		"type":  "content_block_delta",
		"index": 0,
		"delta": map[string]any{"type": "text_delta", "text": text},
	})
}

// Stop closes the content block and emits the terminal message_delta/
// message_stop pair the Anthropic streaming protocol ends every turn with.
func (c *anthropicStreamConverter) Stop(finishReason string) []map[string]any {
	var events []map[string]any
	if c.blockOpen {
		events = append(events, map[string]any{"type": "content_block_stop", "index": 0})
		c.blockOpen = false
	}
	return append(events,
		map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": mapStopReason(finishReason)},
		},
		map[string]any{"type": "message_stop"},
	)
}

// mapStopReason translates an upstream finish reason to an Anthropic
// stop_reason value (spec §6's wire-protocol mapping responsibility).
func mapStopReason(reason string) string {
	switch reason {
	case "", "stop", "STOP":
		return "end_turn"
	case "length", "MAX_TOKENS":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return reason
	}
}
