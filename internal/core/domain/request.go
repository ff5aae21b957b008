package domain

import (
	"net/url"
	"time"
)

// Proxy describes an outbound proxy for a request.
type Proxy struct {
	URL      string `json:"url"      yaml:"url"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"-"        yaml:"password"`
}

// Body is the request payload. At most one of the fields is used, in the
// order JSON, Form, Raw.
type Body struct {
	Form        url.Values
	JSON        any
	Raw         []byte
	ContentType string
}

// IsZero reports whether the body carries no payload.
func (b *Body) IsZero() bool {
	return b == nil || (b.JSON == nil && len(b.Form) == 0 && len(b.Raw) == 0)
}

// RequestSpec is a fully resolved request. It is not mutated once an attempt
// has been issued.
type RequestSpec struct {
	URL       string
	Method    string
	Headers   map[string]string
	Cookies   map[string]string
	Body      *Body
	Query     map[string]string
	VerifyTLS bool
	Timeout   time.Duration
	Proxy     *Proxy

	// RawBody asks the transport to keep the payload as bytes instead of
	// decoding it into Text/JSON.
	RawBody bool
}
