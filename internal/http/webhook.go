package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/service/confirm"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/signature"
)

const (
	signatureHeader = "X-Signature"
	timestampHeader = "X-Timestamp"

	maxWebhookBody = 64 << 10
)

type webhookPayload struct {
	Tracking string `json:"tracking"`
}

// receiveWebhookHandler is the inbound confirmation path for operators that
// push notifications instead of calling /confirm. The signature is checked
// over the raw body before anything is parsed.
func receiveWebhookHandler(verifier *signature.Verifier, svc *confirm.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		sourceName := c.Param("source")
		src, ok := verifier.Source(sourceName)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unknown source"})
		}

		body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		}

		if !verifier.Verify(
			sourceName,
			body,
			c.Request().Header.Get(signatureHeader),
			c.Request().Header.Get(timestampHeader),
			0,
		) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		}

		var p webhookPayload
		if err := json.Unmarshal(body, &p); err != nil || strings.TrimSpace(p.Tracking) == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad payload"})
		}

		res, err := svc.Confirm(c.Request().Context(), src.APIKey, strings.TrimSpace(p.Tracking), confirm.Meta{
			Method:    "webhook",
			ClientIP:  c.RealIP(),
			UserAgent: c.Request().UserAgent(),
		})
		if err != nil {
			switch {
			case errors.Is(err, confirm.ErrCustomerNotFound), errors.Is(err, confirm.ErrCampaignNotFound):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
			default:
				log.Errorf("webhook confirm failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
		}

		status := "confirmed"
		if res.AlreadyConfirmed {
			status = "already_confirmed"
		}
		return c.JSON(http.StatusOK, map[string]any{
			"status":   status,
			"tracking": res.Campaign.Tracking,
		})
	}
}
