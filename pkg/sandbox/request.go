package sandbox

import (
	"io"
	"net/http"
	"sort"
)

// incomingRequest is the guest-facing snapshot of one inbound HTTP request.
// The scheme is always plain http; TLS terminates elsewhere or not at all.
type incomingRequest struct {
	method    string
	pathQuery string
	authority string
	scheme    string
	headers   []headerPair
	body      io.Reader
}

type headerPair struct {
	name  string
	value string
}

func newIncomingRequest(r *http.Request) *incomingRequest {
	// Header order is not preserved by net/http; sort names so the guest
	// sees a stable view.
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	var headers []headerPair
	for _, name := range names {
		for _, value := range r.Header[name] {
			headers = append(headers, headerPair{name: name, value: value})
		}
	}

	return &incomingRequest{
		method:    r.Method,
		pathQuery: r.URL.RequestURI(),
		authority: r.Host,
		scheme:    "http",
		headers:   headers,
		body:      r.Body,
	}
}
