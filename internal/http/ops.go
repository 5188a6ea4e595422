package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/metrics"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/repository"
)

func pagination(c echo.Context) (limit, offset int) {
	limit, offset = 50, 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func listRetriesHandler(retries repository.RetryQueueRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		st := model.RetryPending
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			tmp := model.RetryStatus(raw)
			if !tmp.Valid() {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status"})
			}
			st = tmp
		}

		limit, offset := pagination(c)
		items, err := retries.List(c.Request().Context(), st, limit, offset)
		if err != nil {
			log.Errorf("list retries failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"status":  st,
			"limit":   limit,
			"offset":  offset,
			"count":   len(items),
			"results": items,
		})
	}
}

type cancelRetryReq struct {
	Reason string `json:"reason"`
}

func cancelRetryHandler(retries repository.RetryQueueRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req cancelRetryReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.Reason = strings.TrimSpace(req.Reason)
		if req.Reason == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "reason required"})
		}

		ok, err := retries.Cancel(c.Request().Context(), c.Param("id"), req.Reason)
		if err != nil {
			log.Errorf("cancel retry failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "cancel failed"})
		}
		if !ok {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not found or not cancellable"})
		}

		metrics.RetriesTotal.WithLabelValues("cancelled").Inc()
		return c.JSON(http.StatusOK, map[string]any{"cancelled": true, "id": c.Param("id")})
	}
}

func listAttemptsHandler(attempts repository.CHAttemptsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		var campaignID int64
		if v := c.QueryParam("campaign_id"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid campaign_id"})
			}
			campaignID = n
		}
		tracking := strings.TrimSpace(c.QueryParam("tracking"))

		limit, offset := pagination(c)
		rows, err := attempts.List(c.Request().Context(), campaignID, tracking, limit, offset)
		if err != nil {
			log.Errorf("clickhouse list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
