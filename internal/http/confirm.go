package http

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/metrics"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/service/confirm"
)

func confirmHandler(svc *confirm.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := svc.Confirm(
			c.Request().Context(),
			c.Param("apikey"),
			c.Param("tracking"),
			confirm.Meta{
				Method:    "api",
				ClientIP:  c.RealIP(),
				UserAgent: c.Request().UserAgent(),
			},
		)
		if err != nil {
			switch {
			case errors.Is(err, confirm.ErrCustomerNotFound), errors.Is(err, confirm.ErrCampaignNotFound):
				metrics.ConfirmationsTotal.WithLabelValues("not_found").Inc()
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
			default:
				metrics.ConfirmationsTotal.WithLabelValues("error").Inc()
				log.Errorf("confirm failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
		}

		status := "confirmed"
		if res.AlreadyConfirmed {
			status = "already_confirmed"
		}
		return c.JSON(http.StatusOK, map[string]any{
			"status":      status,
			"campaign_id": res.Campaign.ID,
			"tracking":    res.Campaign.Tracking,
		})
	}
}
