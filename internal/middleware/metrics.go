package middleware

import (
	"strconv"
	"time"

	"github.com/crmdesk/server/pkg/metrics"
	"github.com/gofiber/fiber/v2"
)

// Metrics counts requests by route pattern rather than raw path so ids do
// not explode label cardinality.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := "unmatched"
		if r := c.Route(); r != nil && r.Path != "" && r.Path != "/" {
			route = r.Path
		}
		metrics.HTTPRequests.WithLabelValues(c.Method(), route, strconv.Itoa(statusOf(c, err))).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}
