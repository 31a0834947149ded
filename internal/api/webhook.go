package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/forumsync/internal/model"
)

// handleWebhook authenticates and routes one GitHub webhook delivery.
// The signature check runs before any payload parsing; an unsigned or
// mis-signed request learns nothing beyond "unauthorized".
func (s *Server) handleWebhook(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	if !s.verifySignature(body, c.Request().Header.Get("X-Hub-Signature-256")) {
		log.Warn().Str("remote", c.RealIP()).Msg("Rejected webhook with invalid signature")
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "invalid signature",
		})
	}

	eventType := c.Request().Header.Get("X-GitHub-Event")
	deliveryID := c.Request().Header.Get("X-GitHub-Delivery")
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}

	var envelope struct {
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Repository.FullName == "" {
		log.Warn().Str("event", eventType).Str("delivery", deliveryID).Msg("Dropping webhook without a repository")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "missing repository",
		})
	}
	repo := envelope.Repository.FullName

	if len(s.allowed) > 0 && !s.allowed[repo] {
		log.Info().Str("repo", repo).Str("event", eventType).Msg("Ignoring webhook from repository outside the allow list")
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ignored",
		})
	}

	ev := model.Event{
		Type:       eventType,
		Repo:       repo,
		DeliveryID: deliveryID,
		Payload:    body,
	}

	if err := s.handler.Handle(c.Request().Context(), ev); err != nil {
		log.Error().Err(err).Str("event", eventType).Str("repo", repo).Str("delivery", deliveryID).Msg("Webhook handling failed")
		s.handler.NotifyError(c.Request().Context(),
			fmt.Sprintf("⚠️ Failed to process %s event for %s: %v", eventType, repo, err))
		// The generic body keeps internals out of the HTTP response;
		// details go to the log channel instead.
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "event processing failed",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "processed",
	})
}

// verifySignature checks the HMAC-SHA256 payload signature GitHub sends
// in X-Hub-Signature-256.
func (s *Server) verifySignature(body []byte, header string) bool {
	if s.cfg.WebhookSecret == "" {
		return false
	}
	expected, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(computed), []byte(expected))
}
