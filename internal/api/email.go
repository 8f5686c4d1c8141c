package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/govi/replywriter/internal/email"
	"github.com/govi/replywriter/internal/gemini"
	"github.com/govi/replywriter/internal/reply"
	"github.com/govi/replywriter/internal/usage"
)

// Response formats accepted by the generate endpoints.
const (
	formatText = "text"
	formatHTML = "html"
)

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	format, ok := s.responseFormat(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req reply.EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.bodyError(w, err, "invalid request body")
		return
	}

	s.generate(w, r, req, format)
}

func (s *Server) handleGenerateRaw(w http.ResponseWriter, r *http.Request) {
	format, ok := s.responseFormat(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	msg, err := email.Parse(r.Body, s.logger)
	if err != nil {
		if errors.Is(err, email.ErrNoBody) {
			s.errorResponse(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.bodyError(w, err, "invalid message")
		return
	}

	s.logger.Debug("parsed raw message",
		"request_id", reply.RequestIDFromContext(r.Context()),
		"subject", msg.Subject,
		"message_id", msg.MessageID,
		"has_text", msg.TextBody != "",
		"has_html", msg.HTMLBody != "",
	)

	s.generate(w, r, reply.EmailRequest{
		EmailContent: msg.Content(),
		Tone:         r.URL.Query().Get("tone"),
	}, format)
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request, req reply.EmailRequest, format string) {
	text, err := s.generator.Generate(r.Context(), req)
	if err != nil {
		s.upstreamError(w, r, err)
		return
	}

	if format == formatHTML {
		out, err := email.RenderHTML(text)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, out)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.WriteString(w, text); err != nil {
		s.logger.Debug("failed to write reply", "error", err)
	}
}

// responseFormat validates ?format= before any upstream call is made.
func (s *Server) responseFormat(w http.ResponseWriter, r *http.Request) (string, bool) {
	switch f := r.URL.Query().Get("format"); f {
	case "", formatText:
		return formatText, true
	case formatHTML:
		return formatHTML, true
	default:
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", f))
		return "", false
	}
}

func (s *Server) bodyError(w http.ResponseWriter, err error, prefix string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.errorResponse(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	s.errorResponse(w, http.StatusBadRequest, prefix+": "+err.Error())
}

// upstreamError maps a transport failure to a gateway status. The
// error text is already free of the API key.
func (s *Server) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := reply.RequestIDFromContext(r.Context())

	if r.Context().Err() != nil {
		s.logger.Debug("client went away during generation", "request_id", requestID, "error", err)
		return
	}

	s.logger.Error("reply generation failed", "request_id", requestID, "error", err)

	var se *gemini.StatusError
	switch {
	case errors.As(err, &se):
		s.errorResponse(w, http.StatusBadGateway, fmt.Sprintf("gemini API returned status %d", se.StatusCode))
	case errors.Is(err, context.DeadlineExceeded):
		s.errorResponse(w, http.StatusGatewayTimeout, "gemini API request timed out")
	default:
		s.errorResponse(w, http.StatusBadGateway, "gemini API request failed")
	}
}

// maxSummaryHours bounds the usage window to one leap year.
const maxSummaryHours = 24 * 366

// usageSummaryResponse is the body of GET /v1/usage/summary.
type usageSummaryResponse struct {
	Hours     int                       `json:"hours"`
	Start     string                    `json:"start"`
	End       string                    `json:"end"`
	Total     *usage.Summary            `json:"total"`
	ByOutcome map[string]*usage.Summary `json:"by_outcome"`
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusNotFound, "usage tracking is disabled")
		return
	}

	hours := parseIntParam(r, "hours", 24)
	if hours == 0 {
		hours = 24
	}
	if hours > maxSummaryHours {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("hours must be at most %d", maxSummaryHours))
		return
	}
	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)

	total, err := s.usage.Summary(r.Context(), start, end)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	byOutcome, err := s.usage.SummaryByOutcome(r.Context(), start, end)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, usageSummaryResponse{
		Hours:     hours,
		Start:     start.Format(time.RFC3339),
		End:       end.Format(time.RFC3339),
		Total:     total,
		ByOutcome: byOutcome,
	}, s.logger)
}
