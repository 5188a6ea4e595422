package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/repository"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/token"
)

type encryptReq struct {
	APIKey      string `json:"apikey"`
	ProductID   int64  `json:"product_id"`
	ExpireHours *int   `json:"expire_hours"` // 0 = never expires, absent = default TTL
}

type encryptResp struct {
	EncryptedID string     `json:"encrypted_id"`
	ExpiresAt   *time.Time `json:"expires_at"` // null when never expires
}

func encryptHandler(
	customers repository.CustomersRepository,
	products repository.ProductsRepository,
	codec *token.Codec,
	defaultTTLHours int,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req encryptReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.APIKey = strings.TrimSpace(req.APIKey)
		if req.APIKey == "" || req.ProductID <= 0 || (req.ExpireHours != nil && *req.ExpireHours < 0) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		cu, err := customers.GetByAPIKey(c.Request().Context(), req.APIKey)
		if err != nil {
			log.Errorf("encrypt auth failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
		}
		if cu == nil || cu.Status != model.CustomerActive {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
		}

		p, err := products.GetOwned(c.Request().Context(), req.ProductID, cu.ID)
		if err != nil {
			log.Errorf("encrypt product lookup failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if p == nil || !p.Active {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "product not found"})
		}

		// the default applies only when the field is absent; an explicit 0
		// means never expires
		ttl := defaultTTLHours
		if req.ExpireHours != nil {
			ttl = *req.ExpireHours
		}
		tok, payload, err := codec.Encode(c.Request().Context(), p.ID, cu.ID, ttl)
		if err != nil {
			log.Errorf("encode token failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "encode failed"})
		}

		return c.JSON(http.StatusOK, encryptResp{EncryptedID: tok, ExpiresAt: payload.ExpiresAt})
	}
}

type decryptReq struct {
	EncryptedID string `json:"encrypted_id"`
}

type decryptResp struct {
	ProductID            int64 `json:"product_id"`
	CustomerID           int64 `json:"customer_id"`
	IsValid              bool  `json:"is_valid"`
	TimeRemainingMinutes int64 `json:"time_remaining_minutes"` // -1 = never expires
}

func decryptHandler(codec *token.Codec) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req decryptReq
		if err := c.Bind(&req); err != nil || strings.TrimSpace(req.EncryptedID) == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		dec, err := codec.Decode(c.Request().Context(), strings.TrimSpace(req.EncryptedID))
		if err != nil {
			switch {
			case errors.Is(err, token.ErrNotFound):
				return c.JSON(http.StatusNotFound, map[string]string{"error": "token not found"})
			case errors.Is(err, token.ErrExpired):
				return c.JSON(http.StatusGone, map[string]string{"error": "token expired"})
			default:
				log.Errorf("decode token failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "decode failed"})
			}
		}

		return c.JSON(http.StatusOK, decryptResp{
			ProductID:            dec.ProductID,
			CustomerID:           dec.CustomerID,
			IsValid:              true,
			TimeRemainingMinutes: dec.TimeRemainingMinutes,
		})
	}
}
