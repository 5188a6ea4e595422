package http

import (
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/xamircastel/xafra-ads-v5-sub000/internal/http/middleware"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/model"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/postback"
	"github.com/xamircastel/xafra-ads-v5-sub000/internal/repository"
)

// sendPostbackHandler performs a direct, synchronous dispatch: one attempt
// now, retry bookkeeping exactly as on the confirmation path.
func sendPostbackHandler(dispatcher *postback.Dispatcher, products repository.ProductsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		custID, ok := middleware.CustomerIDFromCtx(c)
		if !ok || custID <= 0 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req model.PostbackRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		req.CustomerID = custID
		if req.Priority == "" {
			req.Priority = model.PriorityNormal
		}
		if req.Priority != model.PriorityNormal && req.Priority != model.PriorityLow {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid priority"})
		}
		if req.ProductID <= 0 && req.WebhookURL == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "product_id or webhook_url required"})
		}

		if req.ProductID > 0 {
			p, err := products.GetOwned(c.Request().Context(), req.ProductID, custID)
			if err != nil {
				log.Errorf("postback product lookup failed: %v", err)
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
			}
			if p == nil {
				return c.JSON(http.StatusNotFound, map[string]string{"error": "product not found"})
			}
		}

		res, err := dispatcher.Dispatch(c.Request().Context(), req)
		if err != nil {
			log.Errorf("postback dispatch failed: %v", err)
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "dispatch failed"})
		}

		body := map[string]any{
			"result":          res.Result,
			"http_status":     res.HTTPStatus,
			"retry_scheduled": res.RetryScheduled,
		}
		if res.NextRetry != nil {
			body["next_retry"] = res.NextRetry
		}
		return c.JSON(http.StatusOK, body)
	}
}
