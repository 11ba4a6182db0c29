// Package chatctx implements the Chat Context: the ordered sequence of
// conversation items (messages, function calls, function call outputs)
// that the cascading pipeline's Conversation Flow builds up over a session
// and replays to the LLM on every turn.
package chatctx

import (
	"fmt"

	"github.com/beluga-voice/agentrt/core"
	"github.com/beluga-voice/agentrt/schema"
)

// ItemKind tags the concrete type of an Item in a Context.
type ItemKind string

const (
	KindSystemMessage    ItemKind = "system_message"
	KindUserMessage      ItemKind = "user_message"
	KindAssistantMessage ItemKind = "assistant_message"
	KindFunctionCall     ItemKind = "function_call"
	KindFunctionOutput   ItemKind = "function_call_output"
)

// Item is one entry in a Context. Concrete types are SystemMessage,
// UserMessage, AssistantMessage, FunctionCall, and FunctionCallOutput.
type Item interface {
	Kind() ItemKind
}

// SystemMessage steers the assistant's behavior.
type SystemMessage struct {
	Parts []schema.ContentPart
}

func (SystemMessage) Kind() ItemKind { return KindSystemMessage }

// Text returns the concatenated text parts.
func (m SystemMessage) Text() string { return joinText(m.Parts) }

// UserMessage is input attributed to the human participant.
type UserMessage struct {
	Parts []schema.ContentPart
}

func (UserMessage) Kind() ItemKind { return KindUserMessage }
func (m UserMessage) Text() string { return joinText(m.Parts) }

// AssistantMessage is a completed assistant response.
type AssistantMessage struct {
	Parts []schema.ContentPart
}

func (AssistantMessage) Kind() ItemKind { return KindAssistantMessage }
func (m AssistantMessage) Text() string { return joinText(m.Parts) }

// FunctionCall records a model-requested tool invocation.
type FunctionCall struct {
	Name      string
	Arguments string
	CallID    string
}

func (FunctionCall) Kind() ItemKind { return KindFunctionCall }

// FunctionCallOutput records the result of executing a FunctionCall.
// CallID must match an earlier FunctionCall in the same Context.
type FunctionCallOutput struct {
	Name    string
	CallID  string
	Output  string
	IsError bool
}

func (FunctionCallOutput) Kind() ItemKind { return KindFunctionOutput }

func joinText(parts []schema.ContentPart) string {
	out := ""
	for _, p := range parts {
		if tp, ok := p.(schema.TextPart); ok {
			if out != "" {
				out += "\n"
			}
			out += tp.Text
		}
	}
	return out
}

func textParts(text string) []schema.ContentPart {
	return []schema.ContentPart{schema.TextPart{Text: text}}
}

// Error codes for chatctx operations.
const (
	ErrCodeDanglingOutput core.ErrorCode = "dangling_function_output"
	ErrCodeUnknownCallID  core.ErrorCode = "unknown_call_id"
)

// Context is the ordered sequence of conversation items for one session.
// It has a single writer (the Conversation Flow task) and requires no
// internal locking.
type Context struct {
	items []Item
}

// New returns an empty Context, optionally seeded with a leading system
// instruction.
func New(systemPrompt string) *Context {
	c := &Context{}
	if systemPrompt != "" {
		c.items = append(c.items, SystemMessage{Parts: textParts(systemPrompt)})
	}
	return c
}

// Items returns the context's items in order. The returned slice must not
// be mutated by the caller.
func (c *Context) Items() []Item { return c.items }

// Len returns the number of items currently held.
func (c *Context) Len() int { return len(c.items) }

// AppendSystem appends a System Message.
func (c *Context) AppendSystem(text string) {
	c.items = append(c.items, SystemMessage{Parts: textParts(text)})
}

// AppendUser appends a User Message.
func (c *Context) AppendUser(text string) {
	c.items = append(c.items, UserMessage{Parts: textParts(text)})
}

// AppendUserParts appends a multi-modal User Message.
func (c *Context) AppendUserParts(parts []schema.ContentPart) {
	c.items = append(c.items, UserMessage{Parts: parts})
}

// AppendAssistant appends an Assistant Message.
func (c *Context) AppendAssistant(text string) {
	c.items = append(c.items, AssistantMessage{Parts: textParts(text)})
}

// AppendFunctionCall appends a Function Call item.
func (c *Context) AppendFunctionCall(name, arguments, callID string) {
	c.items = append(c.items, FunctionCall{Name: name, Arguments: arguments, CallID: callID})
}

// AppendFunctionCallOutput appends a Function Call Output item. It returns
// an error (code ErrCodeUnknownCallID) if no earlier FunctionCall in this
// Context carries a matching CallID.
func (c *Context) AppendFunctionCallOutput(name, callID, output string, isError bool) error {
	if !c.hasCall(callID) {
		return core.NewError("chatctx.append_function_call_output", ErrCodeUnknownCallID,
			fmt.Sprintf("no function call with call_id %q", callID), nil)
	}
	c.items = append(c.items, FunctionCallOutput{Name: name, CallID: callID, Output: output, IsError: isError})
	return nil
}

func (c *Context) hasCall(callID string) bool {
	for _, it := range c.items {
		if fc, ok := it.(FunctionCall); ok && fc.CallID == callID {
			return true
		}
	}
	return false
}

// Truncate keeps at most the last n items, then repairs the invariants:
// at most one leading System Message is preserved, and any
// FunctionCallOutput left without its matching FunctionCall is dropped.
// n <= 0 clears the context.
func (c *Context) Truncate(n int) {
	if n <= 0 {
		c.items = nil
		return
	}

	var leadingSystem *SystemMessage
	if len(c.items) > 0 {
		if sm, ok := c.items[0].(SystemMessage); ok {
			s := sm
			leadingSystem = &s
		}
	}

	kept := c.items
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}

	// Drop any further leading System Messages the window picked up beyond
	// the single preserved one, and any dangling FunctionCallOutput whose
	// FunctionCall fell outside the window.
	seenCalls := map[string]bool{}
	result := make([]Item, 0, len(kept)+1)
	if leadingSystem != nil {
		result = append(result, *leadingSystem)
	}
	for _, it := range kept {
		switch v := it.(type) {
		case SystemMessage:
			continue // only the original leading system message is preserved
		case FunctionCall:
			seenCalls[v.CallID] = true
			result = append(result, it)
		case FunctionCallOutput:
			if !seenCalls[v.CallID] {
				continue
			}
			result = append(result, it)
		default:
			result = append(result, it)
		}
	}
	c.items = result
}

// Clone returns a deep-enough copy (the item slice is copied; items
// themselves are immutable value types).
func (c *Context) Clone() *Context {
	out := &Context{items: make([]Item, len(c.items))}
	copy(out.items, c.items)
	return out
}

// ToMessages renders the Context as the []schema.Message sequence an
// iface.LLM.Chat call expects: System/User/Assistant items map directly,
// a FunctionCall is folded into the preceding (or a synthetic empty)
// AIMessage's ToolCalls, and the FunctionCallOutput that answers it
// becomes a ToolMessage keyed by the same call ID.
func (c *Context) ToMessages() []schema.Message {
	msgs := make([]schema.Message, 0, len(c.items))
	for _, it := range c.items {
		switch v := it.(type) {
		case SystemMessage:
			msgs = append(msgs, &schema.SystemMessage{Parts: v.Parts})
		case UserMessage:
			msgs = append(msgs, &schema.HumanMessage{Parts: v.Parts})
		case AssistantMessage:
			msgs = append(msgs, &schema.AIMessage{Parts: v.Parts})
		case FunctionCall:
			if ai, ok := lastAIMessage(msgs); ok {
				ai.ToolCalls = append(ai.ToolCalls, schema.ToolCall{ID: v.CallID, Name: v.Name, Arguments: v.Arguments})
				continue
			}
			msgs = append(msgs, &schema.AIMessage{ToolCalls: []schema.ToolCall{{ID: v.CallID, Name: v.Name, Arguments: v.Arguments}}})
		case FunctionCallOutput:
			msgs = append(msgs, schema.NewToolMessage(v.CallID, v.Output))
		}
	}
	return msgs
}

func lastAIMessage(msgs []schema.Message) (*schema.AIMessage, bool) {
	if len(msgs) == 0 {
		return nil, false
	}
	ai, ok := msgs[len(msgs)-1].(*schema.AIMessage)
	return ai, ok
}
