package proxy

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	neturl "net/url"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cookieJarStore keeps the cookies upstream sets for each client, so a
// session started through /fetch carries over to the next page.
type cookieJarStore struct {
	mu   sync.Mutex
	jars *lru.Cache[string, http.CookieJar]
}

func newCookieJarStore(size int) *cookieJarStore {
	if size <= 0 {
		size = 256
	}
	jars, _ := lru.New[string, http.CookieJar](size)
	return &cookieJarStore{jars: jars}
}

func (s *cookieJarStore) Get(key string) http.CookieJar {
	s.mu.Lock()
	defer s.mu.Unlock()
	if jar, ok := s.jars.Get(key); ok {
		return jar
	}
	jar, _ := cookiejar.New(nil)
	s.jars.Add(key, jar)
	return jar
}

// hasCookies reports whether the jar would send anything to u.
func hasCookies(jar http.CookieJar, u *neturl.URL) bool {
	return jar != nil && len(jar.Cookies(u)) > 0
}

func deriveClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		host = r.RemoteAddr
	}
	return host + "|" + r.UserAgent()
}
