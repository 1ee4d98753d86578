package accounts

import "net/http"

// RequestInterceptor runs before each outbound request. Returning an
// error aborts the request.
type RequestInterceptor func(*http.Request) error

// ResponseInterceptor runs after each inbound response, before the
// caller sees it.
type ResponseInterceptor func(*http.Response)

// interceptTransport is an http.RoundTripper that threads requests
// through the registered interceptors. The client uses it to attach
// the one-time token and to observe login-cookie updates.
type interceptTransport struct {
	base http.RoundTripper
	pre  []RequestInterceptor
	post []ResponseInterceptor
}

func (t *interceptTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for _, fn := range t.pre {
		if err := fn(req); err != nil {
			return nil, err
		}
	}

	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	for _, fn := range t.post {
		fn(resp)
	}
	return resp, nil
}
