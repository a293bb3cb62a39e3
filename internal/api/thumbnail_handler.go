package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-thumbnailer/internal/auth"
	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

type thumbnailRequest struct {
	EntityID string `json:"entityId"`
	URL      string `json:"url"`
}

type thumbnailResponse struct {
	ThumbnailURL string `json:"thumbnailUrl"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// createThumbnail validates, authenticates, authorizes, captures, then persists.
func (s *Server) createThumbnail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := s.logger.With(zap.String("request_id", requestIDFrom(ctx)))

	var req thumbnailRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.fail(w, log, thumbnail.NewError(thumbnail.KindInvalidInput, "decode request", err), "invalid JSON body")
		return
	}
	req.EntityID = strings.TrimSpace(req.EntityID)
	req.URL = strings.TrimSpace(req.URL)
	if req.EntityID == "" || req.URL == "" {
		s.fail(w, log, thumbnail.Errorf(thumbnail.KindInvalidInput, "validate request", "missing field"),
			"entityId and url are required")
		return
	}
	log = log.With(zap.String("entity_id", req.EntityID))

	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		s.fail(w, log, thumbnail.Errorf(thumbnail.KindUnauthorized, "authenticate", "missing bearer token"), "")
		return
	}
	identity, err := s.deps.Auth.Authenticate(ctx, token)
	if err != nil {
		s.fail(w, log, thumbnail.Classify(err, thumbnail.KindUnauthorized, "authenticate"), "")
		return
	}
	log = log.With(zap.String("user_id", identity.UserID))

	if s.deps.Limiter != nil && !s.deps.Limiter.Allow(identity.UserID) {
		s.fail(w, log, thumbnail.Errorf(thumbnail.KindRateLimited, "admit", "rate limit exceeded"), "")
		return
	}

	project, err := s.deps.Projects.GetProject(ctx, req.EntityID)
	switch {
	case errors.Is(err, thumbnail.ErrNotFound):
		s.fail(w, log, thumbnail.NewError(thumbnail.KindNotFound, "load project", err), "")
		return
	case err != nil:
		s.fail(w, log, thumbnail.NewError(thumbnail.KindInternal, "load project", err), "")
		return
	case !project.OwnedBy(identity.UserID):
		s.fail(w, log, thumbnail.Errorf(thumbnail.KindNotFound, "authorize", "project owned by another user"), "")
		return
	}

	result, err := s.deps.Capturer.Capture(ctx, req.URL, req.EntityID)
	if err != nil {
		s.fail(w, log, thumbnail.Classify(err, thumbnail.KindInternal, "capture"), "")
		return
	}
	log = log.With(zap.String("capture_id", result.CaptureID))

	if err := s.deps.Projects.SetThumbnailURL(ctx, req.EntityID, result.URL); err != nil {
		// The uploaded object is left in place; the reconcile sweep removes it if it stays orphaned.
		s.fail(w, log, thumbnail.NewError(thumbnail.KindPersistenceFailure, "persist thumbnail url", err), "")
		return
	}

	s.notify(ctx, log, result)
	log.Info("thumbnail updated", zap.String("thumbnail_url", result.URL))
	writeJSON(w, http.StatusOK, thumbnailResponse{ThumbnailURL: result.URL})
}

func (s *Server) notify(ctx context.Context, log *zap.Logger, result thumbnail.Result) {
	if s.deps.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	event := thumbnail.CapturedEvent{
		CaptureID:    result.CaptureID,
		EntityID:     result.EntityID,
		SourceURL:    result.SourceURL,
		ThumbnailURL: result.URL,
		Checksum:     result.Checksum,
		CapturedAt:   result.CapturedAt,
	}
	if err := s.deps.Notifier.Notify(ctx, event); err != nil {
		log.Warn("capture notification failed", zap.Error(err))
	}
}

// fail logs the full error and writes a terse, kind-derived response. msg overrides the
// default message and is only honored for client errors.
func (s *Server) fail(w http.ResponseWriter, log *zap.Logger, err error, msg string) {
	kind := thumbnail.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		log.Error("thumbnail request failed", zap.String("kind", string(kind)), zap.Error(err))
		msg = ""
	} else {
		log.Info("thumbnail request rejected", zap.String("kind", string(kind)), zap.Error(err))
	}
	if msg == "" {
		msg = messageFor(kind)
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind.Class()})
}

func statusFor(kind thumbnail.Kind) int {
	switch kind {
	case thumbnail.KindInvalidInput:
		return http.StatusBadRequest
	case thumbnail.KindUnauthorized:
		return http.StatusUnauthorized
	case thumbnail.KindNotFound:
		return http.StatusNotFound
	case thumbnail.KindConflict:
		return http.StatusConflict
	case thumbnail.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(kind thumbnail.Kind) string {
	switch kind.Class() {
	case "InvalidInput":
		return "invalid request"
	case "Unauthorized":
		return "unauthorized"
	case "Forbidden":
		return "project not found"
	case "Conflict":
		return "a capture for this project is already in progress"
	case "RateLimited":
		return "too many capture requests"
	case "RenderFailure":
		return "could not render page"
	case "TranscodeFailure":
		return "could not process screenshot"
	case "PublishFailure":
		return "could not store thumbnail"
	case "PersistenceFailure":
		return "could not save thumbnail"
	case "Canceled":
		return "request canceled"
	default:
		return "internal error"
	}
}
