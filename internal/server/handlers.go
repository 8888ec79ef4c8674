package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"

	"github.com/vocadrill/vocadrill/internal/chain"
	"github.com/vocadrill/vocadrill/internal/segment"
	"github.com/vocadrill/vocadrill/internal/session"
)

type batchRequest struct {
	Words []segment.Word `json:"words"`
}

func (s *Server) handlePutBatch(c echo.Context) error {
	sessionID := c.Param("session")

	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if len(req.Words) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "words must not be empty")
	}
	for i, w := range req.Words {
		if w.ID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "words["+strconv.Itoa(i)+"].id is required")
		}
	}

	batch := &session.Batch{Words: req.Words, UpdatedAt: time.Now().UTC()}
	if err := s.sessions.SaveBatch(c.Request().Context(), sessionID, batch); err != nil {
		slog.Error("save batch failed", "session", sessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "save batch")
	}

	// A new batch invalidates everything derived from the old one.
	rt := s.runtime(sessionID)
	rt.orch.ResetBatch()
	rt.submitter.Cancel()

	return c.NoContent(http.StatusNoContent)
}

type segmentRequest struct {
	Transcript string `json:"transcript"`
	AutoSubmit bool   `json:"autoSubmit"`
}

type segmentResponse struct {
	Segments            []string           `json:"segments"`
	CorrectedTranscript string             `json:"correctedTranscript,omitempty"`
	Judgments           []segment.Judgment `json:"judgments,omitempty"`
	Provenance          segment.Provenance `json:"provenance"`
	Weak                bool               `json:"weak"`
	AutoSubmitScheduled bool               `json:"autoSubmitScheduled"`
}

func (s *Server) handleSegment(c echo.Context) error {
	sessionID := c.Param("session")

	var body segmentRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	batch, err := s.sessions.GetBatch(c.Request().Context(), sessionID)
	if err != nil {
		slog.Error("load batch failed", "session", sessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "load batch")
	}
	if batch == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no active batch for session")
	}

	rt := s.runtime(sessionID)
	// The learner is speaking again; whatever was about to auto-submit is
	// out of date.
	rt.submitter.Cancel()

	req := &segment.Request{
		SessionID:  sessionID,
		Words:      batch.Words,
		Transcript: body.Transcript,
		AutoSubmit: body.AutoSubmit,
	}
	res, err := rt.orch.Segment(c.Request().Context(), req)
	switch {
	case errors.Is(err, chain.ErrEmptyTranscript):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "transcript is empty")
	case errors.Is(err, chain.ErrStale):
		return echo.NewHTTPError(http.StatusConflict, "superseded by a newer request")
	case err != nil:
		slog.Error("segmentation failed", "session", sessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "segmentation failed")
	}

	scheduled := false
	if body.AutoSubmit {
		// A cache hit carries no judgments; fill them in so the result
		// stays auto-submittable. Fallback and weak results wait for a
		// manual submit regardless.
		if len(res.Judgments) == 0 && !res.Weak &&
			res.Provenance != segment.ProvenanceRESTFallback &&
			res.Provenance != segment.ProvenanceGuaranteedFallback {
			res.Judgments, err = s.judge.Judge(c.Request().Context(), sessionID, "auto", batch.Words, res.Segments)
			if err != nil {
				slog.Error("judgment failed", "session", sessionID, "error", err)
				res.Judgments = nil
			}
		}
		scheduled = rt.submitter.Schedule(req, res)
	}

	return c.JSON(http.StatusOK, segmentResponse{
		Segments:            res.Segments,
		CorrectedTranscript: res.CorrectedTranscript,
		Judgments:           res.Judgments,
		Provenance:          res.Provenance,
		Weak:                res.Weak,
		AutoSubmitScheduled: scheduled,
	})
}

type judgeRequest struct {
	Answers []string `json:"answers"`
}

type judgeResponse struct {
	Judgments []segment.Judgment `json:"judgments"`
}

func (s *Server) handleJudge(c echo.Context) error {
	sessionID := c.Param("session")

	var body judgeRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	batch, err := s.sessions.GetBatch(c.Request().Context(), sessionID)
	if err != nil {
		slog.Error("load batch failed", "session", sessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "load batch")
	}
	if batch == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no active batch for session")
	}

	judgments, err := s.judge.Judge(c.Request().Context(), sessionID, "manual", batch.Words, body.Answers)
	if err != nil {
		slog.Error("judgment failed", "session", sessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "judgment failed")
	}
	return c.JSON(http.StatusOK, judgeResponse{Judgments: judgments})
}

type submitRequest struct {
	Transcript string             `json:"transcript"`
	Corrected  string             `json:"corrected,omitempty"`
	Segments   []string           `json:"segments"`
	Judgments  []segment.Judgment `json:"judgments,omitempty"`
	Provenance string             `json:"provenance,omitempty"`
}

func (s *Server) handleSubmit(c echo.Context) error {
	sessionID := c.Param("session")

	var body submitRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if len(body.Segments) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "segments must not be empty")
	}

	batch, err := s.sessions.GetBatch(c.Request().Context(), sessionID)
	if err != nil {
		slog.Error("load batch failed", "session", sessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "load batch")
	}
	if batch == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no active batch for session")
	}

	// A manual submit overrides whatever auto-submission was pending.
	s.runtime(sessionID).submitter.Cancel()

	judgments := body.Judgments
	if len(judgments) == 0 {
		judgments, err = s.judge.Judge(c.Request().Context(), sessionID, "manual", batch.Words, body.Segments)
		if err != nil {
			slog.Error("judgment failed", "session", sessionID, "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "judgment failed")
		}
	} else {
		s.judge.LogIncorrect(sessionID, "manual", batch.Words, body.Segments, judgments)
	}

	sub := &session.Submission{
		ID:         ulid.Make().String(),
		SessionID:  sessionID,
		Transcript: body.Transcript,
		Corrected:  body.Corrected,
		Segments:   segment.Normalize(body.Segments, len(batch.Words)),
		Judgments:  judgments,
		Provenance: body.Provenance,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.sessions.SaveSubmission(c.Request().Context(), sub); err != nil {
		slog.Error("save submission failed", "session", sessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "save submission")
	}
	if _, err := s.sessions.AdvanceCursor(c.Request().Context(), sessionID); err != nil {
		slog.Warn("advance cursor failed", "session", sessionID, "error", err)
	}
	return c.JSON(http.StatusCreated, sub)
}

func (s *Server) handleEndSession(c echo.Context) error {
	sessionID := c.Param("session")
	s.dropRuntime(sessionID)
	slog.Info("session ended", "session", sessionID)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleProgress(c echo.Context) error {
	sessionID := c.Param("session")

	cursor, err := s.sessions.Cursor(c.Request().Context(), sessionID)
	if err != nil {
		slog.Error("get cursor failed", "session", sessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "get cursor")
	}
	batch, err := s.sessions.GetBatch(c.Request().Context(), sessionID)
	if err != nil {
		slog.Error("load batch failed", "session", sessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "load batch")
	}
	batchSize := 0
	if batch != nil {
		batchSize = len(batch.Words)
	}
	return c.JSON(http.StatusOK, map[string]any{"cursor": cursor, "batchSize": batchSize})
}

func (s *Server) handleSubmissions(c echo.Context) error {
	sessionID := c.Param("session")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	subs, err := s.sessions.Submissions(c.Request().Context(), sessionID, limit)
	if err != nil {
		slog.Error("list submissions failed", "session", sessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "list submissions")
	}
	return c.JSON(http.StatusOK, map[string]any{"submissions": subs})
}

func (s *Server) handleErrors(c echo.Context) error {
	sessionID := c.Param("session")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	recs, err := s.errors.Recent(c.Request().Context(), sessionID, limit)
	if err != nil {
		slog.Error("list errors failed", "session", sessionID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "list errors")
	}
	return c.JSON(http.StatusOK, map[string]any{"errors": recs})
}

func (s *Server) handleTranscribe(c echo.Context) error {
	fh, err := c.FormFile("audio")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "audio file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read audio file")
	}
	defer f.Close()

	tr, err := s.stt.Transcribe(c.Request().Context(), fh.Filename, f)
	if err != nil {
		slog.Error("transcription failed", "session", c.Param("session"), "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "transcription failed")
	}
	return c.JSON(http.StatusOK, tr)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.sessions.Ping(ctx); err != nil {
		checks["sessions"] = err.Error()
		healthy = false
	} else {
		checks["sessions"] = "ok"
	}
	if s.stt != nil {
		if err := s.stt.CheckHealth(ctx); err != nil {
			checks["stt"] = err.Error()
			healthy = false
		} else {
			checks["stt"] = "ok"
		}
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	return c.JSON(status, map[string]any{"status": state, "checks": checks})
}

// autoSubmit is the [autosubmit.SubmitFunc] shared by all sessions: it
// persists the judged result and records its incorrect answers, off any
// request context.
func (s *Server) autoSubmit(req *segment.Request, res *segment.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := &session.Submission{
		ID:         ulid.Make().String(),
		SessionID:  req.SessionID,
		Transcript: req.Transcript,
		Corrected:  res.CorrectedTranscript,
		Segments:   res.Segments,
		Judgments:  res.Judgments,
		Provenance: string(res.Provenance),
		Auto:       true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.sessions.SaveSubmission(ctx, sub); err != nil {
		slog.Error("auto-submit save failed", "session", req.SessionID, "error", err)
		return
	}
	if _, err := s.sessions.AdvanceCursor(ctx, req.SessionID); err != nil {
		slog.Warn("advance cursor failed", "session", req.SessionID, "error", err)
	}
	s.judge.LogIncorrect(req.SessionID, "auto", req.Words, res.Segments, res.Judgments)
	slog.Info("auto-submitted", "session", req.SessionID, "submission", sub.ID)
}
