package httpapi

import "strings"

// rewriteID strips the engine's internal "req_" prefix (if present)
// from a canonical id and reprefixes it for the surface that's about
// to serialize it: "resp_" for Responses, "chatcmpl_" for Chat
// Completions. CallID fields are left untouched — they already carry
// a surface-independent "call_" prefix minted by the engine.
func rewriteID(id, prefix string) string {
	id = strings.TrimPrefix(id, "req_")
	return prefix + id
}

const (
	responsesIDPrefix = "resp_"
	chatIDPrefix      = "chatcmpl_"
)
