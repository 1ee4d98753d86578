package session

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/jmcleod/webseal/wire"
)

// CookieSource reports the server-set login-indicator cookie: 0 means
// logged out, 1 a local account, anything greater a federated account.
// The client can observe but never forge it; the server sets it on
// login responses.
type CookieSource interface {
	LoginLevel() int
}

// JarSource reads the login indicator from an http.CookieJar, the way
// a transport-attached jar sees Set-Cookie responses.
type JarSource struct {
	Jar  http.CookieJar
	URL  *url.URL
	Name string
}

var _ CookieSource = (*JarSource)(nil)

// NewJarSource creates a JarSource for the given jar and service URL.
// An empty name selects wire.DefaultLoginCookie.
func NewJarSource(jar http.CookieJar, serviceURL *url.URL, name string) *JarSource {
	if name == "" {
		name = wire.DefaultLoginCookie
	}
	return &JarSource{Jar: jar, URL: serviceURL, Name: name}
}

func (j *JarSource) LoginLevel() int {
	for _, c := range j.Jar.Cookies(j.URL) {
		if c.Name != j.Name {
			continue
		}
		level, err := strconv.Atoi(c.Value)
		if err != nil {
			return wire.LoginLevelNone
		}
		return level
	}
	return wire.LoginLevelNone
}

// StaticSource is a fixed-level CookieSource for tests and cookieless
// callers.
type StaticSource int

var _ CookieSource = StaticSource(0)

func (s StaticSource) LoginLevel() int { return int(s) }
