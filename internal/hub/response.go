/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package hub

import (
	"time"

	"github.com/gin-gonic/gin"

	m2merrors "github.com/m2m-io/m2m/internal/errors"
)

// respondWithError sends a standardized error response.
func (h *Hub) respondWithError(c *gin.Context, statusCode int, code, message string) {
	requestID := c.GetString("request_id")

	logger := h.logger.WithContext(c.Request.Context()).WithFields(map[string]interface{}{
		"status_code": statusCode,
		"error_code":  code,
		"method":      c.Request.Method,
		"path":        c.Request.URL.Path,
		"remote_addr": c.ClientIP(),
	})
	if statusCode >= 500 {
		logger.Error(message, nil)
	} else {
		logger.Warn(message)
	}

	if h.metrics != nil {
		h.metrics.RecordError("hub", code, errorType(statusCode))
	}

	c.JSON(statusCode, m2merrors.New(m2merrors.ErrorCode(code), message).WithRequestID(requestID).ToErrorResponse())
}

// respondWithM2MError translates a *m2merrors.Error to its HTTP status
// and shape.
func (h *Hub) respondWithM2MError(c *gin.Context, err *m2merrors.Error) {
	err.RequestID = c.GetString("request_id")
	statusCode := err.GetHTTPStatus()

	logger := h.logger.WithContext(c.Request.Context()).WithFields(map[string]interface{}{
		"status_code": statusCode,
		"error_code":  err.Code,
		"method":      c.Request.Method,
		"path":        c.Request.URL.Path,
		"remote_addr": c.ClientIP(),
	})
	if statusCode >= 500 {
		logger.Error(err.Message, err.Cause)
	} else {
		logger.Warn(err.Message)
	}

	if h.metrics != nil {
		h.metrics.RecordError("hub", string(err.Code), errorType(statusCode))
	}

	c.JSON(statusCode, err.ToErrorResponse())
}

func errorType(statusCode int) string {
	switch {
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "unknown"
	}
}

// withRequestMetrics wraps an HTTP handler with in-flight tracking,
// duration recording, and request logging.
func (h *Hub) withRequestMetrics(handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		if h.metrics != nil {
			h.metrics.IncHTTPRequestsInFlight()
			defer h.metrics.DecHTTPRequestsInFlight()
		}

		handler(c)

		duration := time.Since(start)
		if h.metrics != nil {
			h.metrics.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
		}
		h.logger.LogRequest(c.Request.Method, c.Request.URL.Path, c.ClientIP(), c.Request.UserAgent(), c.Writer.Status(), duration)
	}
}
