package metrics

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// Middleware records the request counter for each HTTP request. The endpoint
// label uses the route pattern, so path parameters do not explode the label
// cardinality.
func Middleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}

		m.RecordHTTPRequest(endpoint, c.Request.Method, strconv.Itoa(c.Writer.Status()))
	}
}
