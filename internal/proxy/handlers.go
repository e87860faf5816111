package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"

	"thumbfix/internal/settings"
)

const htmlContentType = "text/html; charset=utf-8"

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", htmlContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(s.cfg.IndexHTML)))
	io.WriteString(w, s.cfg.IndexHTML)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "pong\n")
}

// handleRewrite rewrites an HTML document posted as the request body. The url
// or path query parameters tell the rewriter which page it is looking at.
func (s *Server) handleRewrite(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	env, err := s.envFromQuery(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer body.Close()
	base := pageURL(q.Get("url"), q.Get("path"))

	res, err := s.rewriteDocument(r.Context(), body, base, env, headersFromQuery(r), s.cookieJars.Get(deriveClientKey(r)))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var buf bytes.Buffer
	if err := res.doc.Render(&buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeHTML(w, buf.Bytes(), res.rewritten, false)
}

// handleFetch loads a page upstream, rewrites it and serves the result.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, err := normalizeTarget(q.Get("url"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	env, err := s.envFromQuery(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hdr := headersFromQuery(r)
	jar := s.cookieJars.Get(deriveClientKey(r))

	// Pages fetched with the caller's cookies are personal and never cached.
	cacheable := hdr.Get("Cookie") == "" && !hasCookies(jar, target)
	key := cacheKey(target.String(), env, s.settings.Current())
	if cacheable {
		if entry, ok := s.cache.Select(key); ok {
			s.observeCache("hit")
			s.logger.Debug("page cache hit", "url", target)
			s.writeHTML(w, entry.data, entry.rewritten, true)
			return
		}
		s.observeCache("miss")
	}

	data, contentType, err := s.upstream.fetch(r.Context(), target.String(), hdr, jar, "text/html,application/xhtml+xml")
	if err != nil {
		s.logger.Error("fetch failed", "url", target, "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	res, err := s.rewriteDocument(r.Context(), bytes.NewReader(data), target, env, hdr, jar)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	insertBase(res.doc, target)
	var buf bytes.Buffer
	if err := res.doc.Render(&buf); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("rewrote page", "url", target, "rewritten", res.rewritten, "attempts", res.attempts, "upstream_type", contentType)
	if cacheable {
		s.cache.Store(key, cacheEntry{data: buf.Bytes(), contentType: htmlContentType, rewritten: res.rewritten})
	}
	s.writeHTML(w, buf.Bytes(), res.rewritten, false)
}

func (s *Server) writeHTML(w http.ResponseWriter, data []byte, rewritten int, cached bool) {
	w.Header().Set("Content-Type", htmlContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Thumbfix-Rewritten", strconv.Itoa(rewritten))
	if cached {
		w.Header().Set("X-Thumbfix-Cache", "hit")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) observeCache(result string) {
	if s.metrics != nil {
		s.metrics.PageCache.WithLabelValues(result).Inc()
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Values())
}

// handlePutSettings accepts a JSON object of setting keys. Values may be
// strings, booleans or numbers; each is normalized the way the store keeps it.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(&raw); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	for key := range raw {
		if !slices.Contains(settings.Keys, key) {
			http.Error(w, fmt.Sprintf("unknown setting %q", key), http.StatusBadRequest)
			return
		}
	}
	for _, key := range settings.Keys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		str := ""
		if v != nil {
			str = fmt.Sprint(v)
		}
		if err := s.settings.SetValue(r.Context(), key, str); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, settings.ErrUnknownKey) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.settings.Values())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
