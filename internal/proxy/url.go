package proxy

import (
	"errors"
	"net/http"
	neturl "net/url"
	"strings"
)

var errMissingURL = errors.New("missing url")

// normalizeTarget turns the url query value into an absolute http(s) URL.
// Values arrive percent-encoded once or twice depending on the client.
func normalizeTarget(raw string) (*neturl.URL, error) {
	s := strings.TrimSpace(raw)
	for i := 0; i < 2 && strings.Contains(s, "%"); i++ {
		dec, err := neturl.QueryUnescape(s)
		if err != nil {
			break
		}
		s = dec
	}
	if s == "" {
		return nil, errMissingURL
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "//") {
		s = "https:" + s
	} else if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "https://" + s
	}
	u, err := neturl.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, errors.New("url has no host")
	}
	u.Fragment = ""
	return u, nil
}

// pageURL builds the document URL used when /rewrite is given only a path.
func pageURL(rawURL, path string) *neturl.URL {
	if rawURL != "" {
		if u, err := normalizeTarget(rawURL); err == nil {
			return u
		}
	}
	if path == "" {
		return nil
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u, err := neturl.Parse("https://www.pixiv.net" + path)
	if err != nil {
		return nil
	}
	return u
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// headersFromQuery collects the request headers forwarded upstream.
func headersFromQuery(r *http.Request) http.Header {
	hdr := http.Header{}
	if ua := r.URL.Query().Get("ua"); ua != "" {
		hdr.Set("User-Agent", ua)
	}
	if lang := firstNonEmpty(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language")); lang != "" {
		hdr.Set("Accept-Language", lang)
	}
	if ck := r.Header.Get("Cookie"); ck != "" {
		hdr.Set("Cookie", ck)
	}
	return hdr
}
