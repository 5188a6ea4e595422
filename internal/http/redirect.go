package http

import (
	"errors"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/metrics"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/service/redirect"
)

const (
	routeDirect = "direct"
	routeAuto   = "auto"
	routeRandom = "random"
)

// adsHandler serves all three redirect routes; route decides how the
// tracking code and the destination offer are chosen.
func adsHandler(svc *redirect.Service, route string) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		opts := redirect.Options{
			Tracker:      c.QueryParam("tracker"),
			AutoTracking: route == routeAuto,
			Random:       route == routeRandom,
			ClientIP:     c.RealIP(),
			UserAgent:    c.Request().UserAgent(),
		}

		res, err := svc.Handle(c.Request().Context(), c.Param("token"), opts)
		metrics.RedirectLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			if errors.Is(err, redirect.ErrOfferUnavailable) {
				metrics.RedirectsTotal.WithLabelValues(route, "not_found").Inc()
				return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
			}
			metrics.RedirectsTotal.WithLabelValues(route, "error").Inc()
			log.Errorf("redirect failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}

		metrics.RedirectsTotal.WithLabelValues(route, "redirected").Inc()
		return c.Redirect(http.StatusFound, res.URL)
	}
}
