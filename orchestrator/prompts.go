package orchestrator

import "fmt"

const capReachedMessage = "I've looked through the catalog as much as I can for this request. " +
	"If none of what I found fits, could you describe what you're looking for in a different way?"

// duplicateBlockedResult is fed back to the model as a tool-result turn when
// it reissues a call it already made this session.
func duplicateBlockedResult(toolName string) string {
	return fmt.Sprintf("The %s tool was already called with these exact arguments this session. "+
		"Do not retry the same call; answer using the results you already have.", toolName)
}

// capReachedResult is fed back to the model as the outcome of a tool call
// that was requested after the session's invocation budget ran out.
func capReachedResult(toolName string) string {
	return fmt.Sprintf("The %s tool was not executed: this session's tool call limit has been reached. "+
		"Answer with the information you already have.", toolName)
}

const defaultPrompt = "You are a friendly shopping assistant for the store at %s. " +
	"Help customers find products, answer questions about the catalog, and make recommendations. " +
	"Use the available tools to look up real products; never invent items that were not returned by a tool. " +
	"Keep answers short and concrete."

const supportPrompt = "You are a customer support assistant for the store at %s. " +
	"Answer questions about products, orders and store policies. " +
	"Use the available tools to look up catalog information when needed, and be honest when you do not know something."

// systemPrompt selects the conversation's system prompt by type, always
// grounded on the shop the request addresses.
func systemPrompt(promptType, shop string) string {
	switch promptType {
	case "support":
		return fmt.Sprintf(supportPrompt, shop)
	default:
		return fmt.Sprintf(defaultPrompt, shop)
	}
}
