// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package capisync

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// RouterConfig describes how outbound reads are classified.
type RouterConfig struct {
	// StaticAssets is the known static-asset manifest: exact URL paths served
	// cache-first (app shell, scripts, styles, icons).
	StaticAssets []string
	// APIPrefix marks the API namespace, served network-first with cache
	// fallback. Defaults to "/api/".
	APIPrefix string
	// OfflinePage is the designated fallback body for navigational requests
	// when both network and cache fail.
	OfflinePage []byte
}

// Router intercepts outbound network reads and applies a cache policy per
// request class. It is orthogonal to the sync engine: it never touches the
// record store, only the shared durable cache.
type Router struct {
	base      http.RoundTripper
	cache     *Cache
	static    map[string]bool
	apiPrefix string
	offline   []byte
	logger    *slog.Logger
}

// NewRouter wraps base (nil means http.DefaultTransport) with the cache
// policies from cfg.
func NewRouter(base http.RoundTripper, cache *Cache, cfg RouterConfig, logger *slog.Logger) *Router {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	apiPrefix := cfg.APIPrefix
	if apiPrefix == "" {
		apiPrefix = "/api/"
	}
	static := make(map[string]bool, len(cfg.StaticAssets))
	for _, path := range cfg.StaticAssets {
		static[path] = true
	}
	return &Router{
		base:      base,
		cache:     cache,
		static:    static,
		apiPrefix: apiPrefix,
		offline:   cfg.OfflinePage,
		logger:    logger,
	}
}

// RoundTrip implements http.RoundTripper.
func (rt *Router) RoundTrip(req *http.Request) (*http.Response, error) {
	// Non-read requests are never intercepted.
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return rt.base.RoundTrip(req)
	}
	switch {
	case rt.static[req.URL.Path]:
		return rt.cacheFirst(req)
	case strings.HasPrefix(req.URL.Path, rt.apiPrefix):
		return rt.networkFirst(req, true)
	default:
		return rt.networkFirst(req, false)
	}
}

// cacheFirst serves static assets from the durable cache, falling back to the
// network and populating the cache on miss. On total failure, navigational
// requests get the offline fallback page.
func (rt *Router) cacheFirst(req *http.Request) (*http.Response, error) {
	key := cacheKey(req)
	cached, ok, err := rt.cache.Get(req.Context(), key)
	if err != nil {
		rt.logger.Warn("cache read failed, going to network", "url", key, "error", err)
	} else if ok {
		return cached.Response(req), nil
	}

	resp, err := rt.fetchAndStore(req, key)
	if err != nil {
		if isNavigational(req) {
			return rt.offlinePage(req), nil
		}
		return nil, err
	}
	return resp, nil
}

// networkFirst always attempts the network, opportunistically caching 2xx
// responses. On failure it serves the last cached copy for the exact request;
// with none, API requests get a synthesized 503 and other navigations the
// offline fallback page.
func (rt *Router) networkFirst(req *http.Request, api bool) (*http.Response, error) {
	resp, err := rt.fetchAndStore(req, cacheKey(req))
	if err == nil {
		return resp, nil
	}

	cached, ok, cacheErr := rt.cache.Get(req.Context(), cacheKey(req))
	if cacheErr != nil {
		rt.logger.Warn("cache fallback read failed", "url", cacheKey(req), "error", cacheErr)
	} else if ok {
		rt.logger.Info("serving cached copy while offline", "url", cacheKey(req))
		return cached.Response(req), nil
	}

	if api {
		return rt.offlineAPIResponse(req), nil
	}
	return rt.offlinePage(req), nil
}

// fetchAndStore performs the network round trip and stores a copy of 2xx
// responses in the durable cache. Non-2xx responses are served untouched and
// never cached.
func (rt *Router) fetchAndStore(req *http.Request, key string) (*http.Response, error) {
	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if storeErr := rt.cache.Put(req.Context(), key, resp.StatusCode, resp.Header, body); storeErr != nil {
		// Caching is opportunistic; the fresh response is still served.
		rt.logger.Warn("failed to store response copy", "url", key, "error", storeErr)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

// offlineAPIResponse synthesizes a 503 with a machine-readable body for API
// requests that cannot be served from network or cache.
func (rt *Router) offlineAPIResponse(req *http.Request) *http.Response {
	body := []byte(`{"error":"offline","message":"no cached data"}`)
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &http.Response{
		Status:        http.StatusText(http.StatusServiceUnavailable),
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// offlinePage serves the designated offline fallback page.
func (rt *Router) offlinePage(req *http.Request) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "text/html; charset=utf-8")
	return &http.Response{
		Status:        http.StatusText(http.StatusOK),
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(rt.offline)),
		ContentLength: int64(len(rt.offline)),
		Request:       req,
	}
}

// Activate evicts every cache generation except the router's current one.
// Call once on startup of a new router version.
func (rt *Router) Activate(ctx context.Context) error {
	return rt.cache.Activate(ctx)
}

// cacheKey is the exact-request cache key.
func cacheKey(req *http.Request) string { return req.URL.String() }

// isNavigational reports whether the request looks like a page navigation.
func isNavigational(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
