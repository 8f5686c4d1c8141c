// Package gemini talks to the Gemini generateContent endpoint: it owns
// the typed request payload, the single outbound POST, and the lenient
// extraction of reply text from whatever JSON comes back.
package gemini

// GenerateRequest is the generateContent request body:
//
//	{"contents":[{"parts":[{"text":"..."}]}]}
type GenerateRequest struct {
	Contents []Content `json:"contents"`
}

// Content is one turn of the conversation.
type Content struct {
	Parts []Part `json:"parts"`
}

// Part is a single text fragment of a Content.
type Part struct {
	Text string `json:"text"`
}

// NewTextRequest wraps a prompt in a single-turn, single-part request.
func NewTextRequest(prompt string) GenerateRequest {
	return GenerateRequest{
		Contents: []Content{{Parts: []Part{{Text: prompt}}}},
	}
}

// Usage is the token accounting reported in usageMetadata. Zero values
// mean the upstream omitted the field.
type Usage struct {
	PromptTokens    int
	CandidateTokens int
	TotalTokens     int
}
