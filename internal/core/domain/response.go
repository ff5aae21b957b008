package domain

import "net/http"

// Response is the transport-independent result of one attempt.
type Response struct {
	StatusCode int         `json:"status_code"`
	Text       string      `json:"text,omitempty"`
	JSON       any         `json:"json,omitempty"`
	URL        string      `json:"url"`
	Raw        []byte      `json:"-"`
	Header     http.Header `json:"-"`
}

// OK reports whether the response carries status 200.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode == http.StatusOK
}

// ServerError reports whether the status code is in the 5xx range.
func (r *Response) ServerError() bool {
	return r != nil && r.StatusCode >= 500 && r.StatusCode <= 599
}
