package gemini

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
)

// Fallback strings returned in place of reply text.
const (
	NoTextFallback      = "No text found in API response"
	ErrorFallbackPrefix = "Error processing request: "
)

// ErrNoText is the missing sentinel: the reply path did not resolve to
// a string leaf.
var ErrNoText = errors.New("no text at candidates[0].content.parts[0].text")

// replyPath is candidates[0].content.parts[0].text in jsonparser key form.
var replyPath = []string{"candidates", "[0]", "content", "parts", "[0]", "text"}

// SyntaxError reports a response body that is not a JSON document.
type SyntaxError struct {
	Offset int64
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("json syntax error: %s (offset %d)", e.Msg, e.Offset)
}

// MissingError records the first path segment that failed to resolve.
// It unwraps to ErrNoText.
type MissingError struct {
	Path string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("response path %s missing", e.Path)
}

func (e *MissingError) Unwrap() error { return ErrNoText }

// Outcome classifies an extraction.
type Outcome string

// Extraction outcomes, also stored in the usage ledger.
const (
	OutcomeFound       Outcome = "ok"
	OutcomeMissing     Outcome = "no_text"
	OutcomeParseFailed Outcome = "parse_error"
)

// Extraction is the result of reading a generateContent response.
// Text is always set: the reply on success, otherwise a fallback string.
type Extraction struct {
	Text    string
	Outcome Outcome
	Err     error // *SyntaxError or *MissingError; nil when found

	Usage        Usage
	FinishReason string
	BlockReason  string
}

// ExtractReply returns the reply text from a generateContent response
// body, or NoTextFallback / an ErrorFallbackPrefix diagnostic. It never
// fails and holds no state between calls.
func ExtractReply(body []byte) string {
	return Extract(body).Text
}

// Extract reads the reply and response metadata from body.
func Extract(body []byte) Extraction {
	text, err := LookupText(body)

	var syntaxErr *SyntaxError
	switch {
	case err == nil:
		ex := Extraction{Text: text, Outcome: OutcomeFound}
		readMetadata(body, &ex)
		return ex
	case errors.As(err, &syntaxErr):
		return Extraction{
			Text:    ErrorFallbackPrefix + syntaxErr.Error(),
			Outcome: OutcomeParseFailed,
			Err:     err,
		}
	default:
		ex := Extraction{Text: NoTextFallback, Outcome: OutcomeMissing, Err: err}
		readMetadata(body, &ex)
		return ex
	}
}

// LookupText parses body and walks candidates[0].content.parts[0].text.
// It returns a *SyntaxError when body is not JSON and a *MissingError
// (matching ErrNoText) at the first segment that is absent, the wrong
// type, null, or past the end of an array.
func LookupText(body []byte) (string, error) {
	if err := validate(body); err != nil {
		return "", err
	}

	cur, curType, _, _ := jsonparser.Get(body)
	for i, key := range replyPath {
		if !containerFits(curType, key) {
			return "", &MissingError{Path: formatPath(replyPath[:i+1])}
		}
		val, typ, _, err := jsonparser.Get(cur, key)
		if err != nil || typ == jsonparser.NotExist || typ == jsonparser.Null {
			return "", &MissingError{Path: formatPath(replyPath[:i+1])}
		}
		if i < len(replyPath)-1 {
			cur, curType = val, typ
			continue
		}
		if typ != jsonparser.String {
			return "", &MissingError{Path: formatPath(replyPath)}
		}
		return decodeString(val)
	}
	return "", &MissingError{Path: formatPath(replyPath)}
}

// containerFits reports whether a value of type typ can hold key: index
// segments need an array and name segments an object. jsonparser would
// otherwise match "[0]" as a literal object key.
func containerFits(typ jsonparser.ValueType, key string) bool {
	if strings.HasPrefix(key, "[") {
		return typ == jsonparser.Array
	}
	return typ == jsonparser.Object
}

// decodeString unescapes a raw string leaf (quotes already stripped)
// with encoding/json, which maps lone surrogates to U+FFFD the same way
// validate accepted them.
func decodeString(raw []byte) (string, error) {
	quoted := make([]byte, 0, len(raw)+2)
	quoted = append(quoted, '"')
	quoted = append(quoted, raw...)
	quoted = append(quoted, '"')

	var text string
	if err := json.Unmarshal(quoted, &text); err != nil {
		return "", &SyntaxError{Msg: fmt.Sprintf("decode text leaf: %v", err)}
	}
	return text, nil
}

// validate checks that body is exactly one JSON value. jsonparser is
// lenient about malformed input, so the strict check comes first.
func validate(body []byte) error {
	var raw json.RawMessage
	err := json.Unmarshal(body, &raw)
	if err == nil {
		return nil
	}
	var se *json.SyntaxError
	if errors.As(err, &se) {
		return &SyntaxError{Offset: se.Offset, Msg: se.Error()}
	}
	return &SyntaxError{Msg: err.Error()}
}

func readMetadata(body []byte, ex *Extraction) {
	if v, err := jsonparser.GetInt(body, "usageMetadata", "promptTokenCount"); err == nil {
		ex.Usage.PromptTokens = int(v)
	}
	if v, err := jsonparser.GetInt(body, "usageMetadata", "candidatesTokenCount"); err == nil {
		ex.Usage.CandidateTokens = int(v)
	}
	if v, err := jsonparser.GetInt(body, "usageMetadata", "totalTokenCount"); err == nil {
		ex.Usage.TotalTokens = int(v)
	}
	if v, err := jsonparser.GetString(body, "candidates", "[0]", "finishReason"); err == nil {
		ex.FinishReason = v
	}
	if v, err := jsonparser.GetString(body, "promptFeedback", "blockReason"); err == nil {
		ex.BlockReason = v
	}
}

// formatPath renders jsonparser keys as candidates[0].content...
func formatPath(keys []string) string {
	var b strings.Builder
	for i, k := range keys {
		if strings.HasPrefix(k, "[") {
			b.WriteString(k)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(k)
	}
	return b.String()
}
