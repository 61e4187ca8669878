package engine

import (
	"strings"
)

// ingest fails with Validation if the canonicalized input is empty or
// whitespace-only, then advances to Tokenize.
func ingest(ctx *ExecutionContext) *CoreError {
	ctx.State = StateIngest
	if err := ctx.disconnectHit(StateIngest); err != nil {
		return err
	}
	ctx.CanonicalText = ctx.Request.Input.ToCanonicalText()
	if strings.TrimSpace(ctx.CanonicalText) == "" {
		return ValidationError("input must not be empty")
	}
	ctx.State = StateTokenize
	return nil
}

// tokenize computes input_tokens as a whitespace-token count of the
// canonicalized input. The caller advances state to Hold or Generate
// once this returns without error.
func tokenize(ctx *ExecutionContext) *CoreError {
	ctx.State = StateTokenize
	if err := ctx.disconnectHit(StateTokenize); err != nil {
		return err
	}
	ctx.InputTokens = whitespaceTokenCount(ctx.CanonicalText)
	return nil
}

func whitespaceTokenCount(s string) uint32 {
	return uint32(len(strings.Fields(s)))
}
