package host

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/optica/pkg/reasoning"
	"github.com/kadirpekel/optica/pkg/session"
)

// SendMessageTool is the only tool the router offers the engine.
const SendMessageTool = "send_message"

// DefaultInstruction is the routing policy of the host.
const DefaultInstruction = `You are the assistant of an eyewear store. You answer customers in the language they write in.
You do not know the catalog, prices, stock or orders yourself: delegate to the remote agents with the send_message tool.
- Product questions, lens technology, face shape and style advice go to the consultation agent.
- Finding frames by description or photo goes to the search agent.
- Product details by id or name, user information, order history and placing orders go to the order agent.
Put everything the agent needs into the task text, including product ids and quantities from the session memory.
You may call several agents at once when the request needs them. When an agent asks for missing information, relay
the question to the customer. When no agent offers a needed capability, say so plainly.`

func sendMessageTool(agents []Agent) reasoning.Tool {
	names := make([]any, 0, len(agents))
	for _, a := range agents {
		names = append(names, a.Card.Name)
	}
	agentName := map[string]any{
		"type":        "string",
		"description": "The exact name of the agent.",
	}
	if len(names) > 0 {
		agentName["enum"] = names
	}
	return reasoning.Tool{
		Name:        SendMessageTool,
		Description: "Send a task to a remote agent and wait for its answer.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"agent_name": agentName,
				"task": map[string]any{
					"type":        "string",
					"description": "A self-contained description of what the agent should do.",
				},
			},
			"required": []any{"agent_name", "task"},
		},
	}
}

// systemPrompt renders the instruction, the agent catalog and the session memory.
func systemPrompt(instruction string, agents []Agent, rec *session.Record) string {
	if instruction == "" {
		instruction = DefaultInstruction
	}
	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\nAvailable agents:\n")
	if len(agents) == 0 {
		b.WriteString("(none are reachable right now)\n")
	}
	for _, a := range agents {
		fmt.Fprintf(&b, "- %s: %s\n", a.Card.Name, a.Card.Description)
		for _, s := range a.Card.Skills {
			fmt.Fprintf(&b, "    * %s (%s): %s\n", s.Name, s.ID, s.Description)
		}
	}

	if mem := memorySummary(rec); mem != "" {
		b.WriteString("\nSession memory:\n")
		b.WriteString(mem)
		b.WriteString("\n")
	}
	return b.String()
}

func memorySummary(rec *session.Record) string {
	doc := map[string]any{}
	if len(rec.MemoryContext) > 0 {
		doc["memory"] = rec.MemoryContext
	}
	if len(rec.CartItems) > 0 {
		doc["cart"] = rec.CartItems
	}
	if rec.LastIntent != "" {
		doc["lastIntent"] = rec.LastIntent
	}
	if len(rec.PendingTasks) > 0 {
		waiting := make([]string, 0, len(rec.PendingTasks))
		for agent := range rec.PendingTasks {
			waiting = append(waiting, agent)
		}
		doc["waitingForUserInput"] = waiting
	}
	if len(doc) == 0 {
		return ""
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	return string(raw)
}

// conversation maps the history tail onto engine messages, trimmed to the
// token budget. The newest entry is always kept.
func conversation(tail []session.Entry, tokens *reasoning.TokenCounter, budget int) []reasoning.Message {
	roles := make([]string, len(tail))
	contents := make([]string, len(tail))
	for i, e := range tail {
		roles[i], contents[i] = e.Role, e.Content
	}
	start := tokens.FitTail(roles, contents, budget)

	out := make([]reasoning.Message, 0, len(tail)-start)
	for _, e := range tail[start:] {
		role := reasoning.RoleUser
		if e.Role == session.RoleAssistant {
			role = reasoning.RoleAssistant
		}
		out = append(out, reasoning.Message{Role: role, Content: e.Content})
	}
	return out
}
