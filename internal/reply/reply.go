// Package reply generates email replies: it turns an EmailRequest into
// a prompt, sends exactly one generateContent call, and extracts the
// reply text.
//
// Extraction problems (malformed JSON, unexpected shape) degrade to
// fixed diagnostic strings. Transport problems (network errors, non-2xx
// status) are returned as errors.
package reply

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/govi/replywriter/internal/gemini"
	"github.com/govi/replywriter/internal/prompts"
	"github.com/govi/replywriter/internal/usage"
)

// EmailRequest is the inbound request. Tone is optional.
type EmailRequest struct {
	EmailContent string `json:"emailContent"`
	Tone         string `json:"tone,omitempty"`
}

// Poster sends a generateContent payload and returns the raw body.
// [gemini.Client] is the production implementation.
type Poster interface {
	Post(ctx context.Context, req gemini.GenerateRequest) ([]byte, error)
}

// Recorder receives one usage record per generation. Recording is
// best-effort and never changes the result.
type Recorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Generator is the reply orchestrator. It is stateless across calls and
// safe for concurrent use.
type Generator struct {
	poster   Poster
	model    string
	recorder Recorder
	logger   *slog.Logger
}

// NewGenerator creates a Generator. model is only used for logging and
// the usage ledger; the endpoint already encodes it.
func NewGenerator(poster Poster, model string, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		poster: poster,
		model:  model,
		logger: logger,
	}
}

// SetRecorder enables usage recording.
func (g *Generator) SetRecorder(r Recorder) {
	g.recorder = r
}

// Generate builds the prompt for req, posts it, and returns the
// extracted reply. The returned string is the generated text or one of
// the gemini fallback strings; err is non-nil only for transport
// failures.
func (g *Generator) Generate(ctx context.Context, req EmailRequest) (string, error) {
	prompt := prompts.EmailReplyPrompt(req.EmailContent, req.Tone)
	payload := gemini.NewTextRequest(prompt)

	requestID := RequestIDFromContext(ctx)
	log := g.logger.With("request_id", requestID)
	log.Debug("generating reply",
		"content_len", len(req.EmailContent),
		"tone", req.Tone,
		"prompt_len", len(prompt),
	)

	start := time.Now()
	body, err := g.poster.Post(ctx, payload)
	elapsed := time.Since(start)
	if err != nil {
		g.record(ctx, usage.Record{
			RequestID: requestID,
			Model:     g.model,
			Outcome:   usage.OutcomeTransportError,
			Duration:  elapsed,
		})
		return "", fmt.Errorf("generate reply: %w", err)
	}

	ex := gemini.Extract(body)
	switch ex.Outcome {
	case gemini.OutcomeFound:
		log.Debug("reply generated",
			"reply_len", len(ex.Text),
			"finish_reason", ex.FinishReason,
			"prompt_tokens", ex.Usage.PromptTokens,
			"candidate_tokens", ex.Usage.CandidateTokens,
			"elapsed", elapsed,
		)
	default:
		log.Warn("reply extraction fell back",
			"outcome", ex.Outcome,
			"error", ex.Err,
			"finish_reason", ex.FinishReason,
			"block_reason", ex.BlockReason,
		)
	}

	g.record(ctx, usage.Record{
		RequestID:       requestID,
		Model:           g.model,
		Outcome:         string(ex.Outcome),
		PromptTokens:    ex.Usage.PromptTokens,
		CandidateTokens: ex.Usage.CandidateTokens,
		Duration:        elapsed,
	})

	return ex.Text, nil
}

func (g *Generator) record(ctx context.Context, rec usage.Record) {
	if g.recorder == nil {
		return
	}
	// The request context may already be cancelled; the ledger write
	// should still land.
	if err := g.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		g.logger.Warn("failed to record usage", "request_id", rec.RequestID, "error", err)
	}
}
