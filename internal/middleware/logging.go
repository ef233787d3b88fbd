package middleware

import (
	"errors"
	"time"

	"github.com/crmdesk/server/pkg/logger"
	"github.com/gofiber/fiber/v2"
)

const requestIDHeader = "X-Request-ID"

// statusOf reports the status the client will see. A *fiber.Error returned
// up the chain has not been written to the response yet.
func statusOf(c *fiber.Ctx, err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return c.Response().StatusCode()
}

// RequestLogger tags each request with an id, echoes it in the response
// and logs one http_request line when the handler returns.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := c.Get(requestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = logger.GenerateRequestID()
		}
		c.Locals("requestID", requestID)
		c.Set(requestIDHeader, requestID)

		err := c.Next()

		statusCode := statusOf(c, err)
		details := map[string]interface{}{
			"method":        c.Method(),
			"path":          c.Path(),
			"status_code":   statusCode,
			"latency_ms":    time.Since(start).Milliseconds(),
			"user_agent":    c.Get("User-Agent"),
			"ip":            c.IP(),
			"request_body":  logger.GetRequestBodySummary(c),
			"response_body": logger.GetResponseSizeSummary(c),
			"request_id":    requestID,
		}

		userID := logger.GetUserIDFromContext(c)
		switch {
		case userID != nil && statusCode >= 500:
			logger.ErrorWithUser(*userID, "http_request", err, details)
		case userID != nil && statusCode >= 400:
			logger.WarnWithUser(*userID, "http_request", details)
		case userID != nil:
			logger.InfoWithUser(*userID, "http_request", details)
		case statusCode >= 500:
			logger.Error("http_request", err, details)
		case statusCode >= 400:
			logger.Warn("http_request", details)
		default:
			logger.Info("http_request", details)
		}

		return err
	}
}

var securityEvents = map[int]string{
	fiber.StatusUnauthorized: "unauthorized",
	fiber.StatusForbidden:    "access_denied",
	fiber.StatusNotFound:     "not_found",
	fiber.StatusConflict:     "version_conflict",
}

// SecurityLogger records refused and conflicting requests as their own
// events so they can be alerted on separately from the request log.
func SecurityLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		event, ok := securityEvents[statusOf(c, err)]
		if !ok {
			return err
		}

		userID := logger.GetUserIDFromContext(c)
		details := map[string]interface{}{
			"method": c.Method(),
			"path":   c.Path(),
			"ip":     c.IP(),
			"reason": event,
		}
		if userID != nil {
			logger.WarnWithUser(*userID, event, details)
		} else {
			logger.Warn(event+"_unauthenticated", details)
		}

		return err
	}
}
