package proxy

import (
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// upstream fetches pages and stylesheets on behalf of /fetch.
type upstream struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

func newUpstream(timeout time.Duration, userAgent string, maxBytes int64) *upstream {
	return &upstream{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		maxBytes:  maxBytes,
	}
}

// fetch returns the decoded body and content type of absURL.
// A non-nil jar receives the cookies upstream sets.
func (u *upstream) fetch(ctx context.Context, absURL string, hdr http.Header, jar http.CookieJar, accept string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, absURL, nil)
	if err != nil {
		return nil, "", err
	}
	if accept == "" {
		accept = "text/*"
	}
	for k, vals := range hdr {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	if req.Header.Get("User-Agent") == "" && u.userAgent != "" {
		req.Header.Set("User-Agent", u.userAgent)
	}
	client := u.client
	if jar != nil {
		c := *u.client
		c.Jar = jar
		client = &c
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("upstream %s: %s", absURL, resp.Status)
	}
	rc := io.ReadCloser(resp.Body)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		if gr, err := gzip.NewReader(resp.Body); err == nil {
			rc = gr
			defer gr.Close()
		}
	case "deflate":
		if zr, err := zlib.NewReader(resp.Body); err == nil {
			rc = zr
			defer zr.Close()
		} else if fr := flate.NewReader(resp.Body); fr != nil {
			rc = io.NopCloser(fr)
			defer fr.Close()
		}
	}
	var r io.Reader = rc
	if u.maxBytes > 0 {
		r = io.LimitReader(rc, u.maxBytes)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", absURL, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// stylesheetLoader adapts fetch for the document cascade.
func (u *upstream) stylesheetLoader(ctx context.Context, hdr http.Header, jar http.CookieJar) func(string) (string, bool) {
	return func(absURL string) (string, bool) {
		b, _, err := u.fetch(ctx, absURL, hdr, jar, "text/css")
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}
