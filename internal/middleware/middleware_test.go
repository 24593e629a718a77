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

package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/m2m-io/m2m/internal/config"
)

func newTestRouter(cfg config.AuthConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AdminAuth(cfg))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})
	return router
}

func TestAdminAuthDisabledAllowsAnyRequest(t *testing.T) {
	cfg := config.AuthConfig{RequireAdminAuth: false, AdminAPIKeyHeader: "X-Admin-Key"}
	router := newTestRouter(cfg)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d when auth disabled, got %d", http.StatusOK, w.Code)
	}
}

func TestAdminAuthRequiresHeaderWhenEnabled(t *testing.T) {
	cfg := config.AuthConfig{RequireAdminAuth: true, AdminAPIKeyHeader: "X-Admin-Key"}
	router := newTestRouter(cfg)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d without header, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestAdminAuthRejectsWrongKey(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "admin.keys")
	if err := os.WriteFile(keyFile, []byte("correct-key\n"), 0o600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}

	cfg := config.AuthConfig{RequireAdminAuth: true, AdminKeyFile: keyFile, AdminAPIKeyHeader: "X-Admin-Key"}
	router := newTestRouter(cfg)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Admin-Key", "wrong-key")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status %d with wrong key, got %d", http.StatusForbidden, w.Code)
	}
}

func TestAdminAuthAcceptsCorrectKey(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "admin.keys")
	if err := os.WriteFile(keyFile, []byte("# comment\n\ncorrect-key\n"), 0o600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}

	cfg := config.AuthConfig{RequireAdminAuth: true, AdminKeyFile: keyFile, AdminAPIKeyHeader: "X-Admin-Key"}
	router := newTestRouter(cfg)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Admin-Key", "correct-key")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d with correct key, got %d", http.StatusOK, w.Code)
	}
}

func TestRequestIDGeneratesWhenMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		id, _ := c.Get("request_id")
		c.JSON(http.StatusOK, gin.H{"request_id": id})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header to be set")
	}
}

func TestRequestIDPreservesIncomingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Fatalf("expected X-Request-ID to be preserved, got %q", got)
	}
}

func TestRequestSizeLimitRejectsOversizedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestSizeLimit(10))
	router.POST("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	body := "this body is definitely over ten bytes"
	req := httptest.NewRequest("POST", "/test", strings.NewReader(body))
	req.ContentLength = int64(len(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d for oversized body, got %d", http.StatusRequestEntityTooLarge, w.Code)
	}
}

func TestSecurityHeadersSetsExpectedHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SecurityHeaders())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected X-Content-Type-Options: nosniff")
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("expected X-Frame-Options: DENY")
	}
}

func TestCORSHandlesPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	req := httptest.NewRequest("OPTIONS", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status %d for preflight, got %d", http.StatusNoContent, w.Code)
	}
}
