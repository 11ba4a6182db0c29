package chatctx

import (
	"encoding/json"
	"fmt"
)

// wireItem is the JSON-on-the-wire shape for one Item: a kind discriminator
// plus the union of fields any concrete Item type may carry. Optional
// fields that are empty are omitted, matching the "data classes with
// defaults... fields optional in wire messages must serialize omitting
// nulls" convention used across the runtime's wire types.
type wireItem struct {
	Kind      ItemKind `json:"kind"`
	Text      string   `json:"text,omitempty"`
	Name      string   `json:"name,omitempty"`
	Arguments string   `json:"arguments,omitempty"`
	CallID    string   `json:"call_id,omitempty"`
	Output    string   `json:"output,omitempty"`
	IsError   bool     `json:"is_error,omitempty"`
}

// MarshalJSON serializes the Context as an ordered list of wire items.
func (c *Context) MarshalJSON() ([]byte, error) {
	wire := make([]wireItem, 0, len(c.items))
	for _, it := range c.items {
		switch v := it.(type) {
		case SystemMessage:
			wire = append(wire, wireItem{Kind: KindSystemMessage, Text: v.Text()})
		case UserMessage:
			wire = append(wire, wireItem{Kind: KindUserMessage, Text: v.Text()})
		case AssistantMessage:
			wire = append(wire, wireItem{Kind: KindAssistantMessage, Text: v.Text()})
		case FunctionCall:
			wire = append(wire, wireItem{Kind: KindFunctionCall, Name: v.Name, Arguments: v.Arguments, CallID: v.CallID})
		case FunctionCallOutput:
			wire = append(wire, wireItem{Kind: KindFunctionOutput, Name: v.Name, CallID: v.CallID, Output: v.Output, IsError: v.IsError})
		default:
			return nil, fmt.Errorf("chatctx: unknown item type %T", it)
		}
	}
	return json.Marshal(wire)
}

// UnmarshalJSON replaces the Context's items with those decoded from data.
func (c *Context) UnmarshalJSON(data []byte) error {
	var wire []wireItem
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	items := make([]Item, 0, len(wire))
	for _, w := range wire {
		switch w.Kind {
		case KindSystemMessage:
			items = append(items, SystemMessage{Parts: textParts(w.Text)})
		case KindUserMessage:
			items = append(items, UserMessage{Parts: textParts(w.Text)})
		case KindAssistantMessage:
			items = append(items, AssistantMessage{Parts: textParts(w.Text)})
		case KindFunctionCall:
			items = append(items, FunctionCall{Name: w.Name, Arguments: w.Arguments, CallID: w.CallID})
		case KindFunctionOutput:
			items = append(items, FunctionCallOutput{Name: w.Name, CallID: w.CallID, Output: w.Output, IsError: w.IsError})
		default:
			return fmt.Errorf("chatctx: unknown wire item kind %q", w.Kind)
		}
	}
	c.items = items
	return nil
}

