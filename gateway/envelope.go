// Package gateway adapts hosting environments to the pipeline. A request
// arrives as an Envelope, from net/http or from a cloud-function HTTP
// trigger event, and leaves as a Response.
package gateway

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/teranos/reel/errors"
)

// MaxBodyBytes bounds request bodies
const MaxBodyBytes = 1 << 20

// Envelope is a hosting-neutral request
type Envelope struct {
	Method  string
	Path    string
	Headers map[string]string // lower-cased keys
	Query   map[string]string
	Body    []byte
}

// Header returns a header value, case-insensitively
func (e Envelope) Header(name string) string {
	return e.Headers[strings.ToLower(name)]
}

// FromHTTP builds an envelope from a net/http request
func FromHTTP(r *http.Request) (Envelope, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return Envelope{}, errors.Wrap(err, "read request body")
	}
	if len(body) > MaxBodyBytes {
		return Envelope{}, errors.NewInvalidRequestError("request body exceeds %d bytes", MaxBodyBytes)
	}

	env := Envelope{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: make(map[string]string, len(r.Header)),
		Query:   make(map[string]string),
		Body:    body,
	}
	for k, v := range r.Header {
		if len(v) > 0 {
			env.Headers[strings.ToLower(k)] = v[0]
		}
	}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			env.Query[k] = v[0]
		}
	}
	return env, nil
}

// event is a cloud-function HTTP trigger payload. Both the v1 layout
// (requestContext.http, rawPath) and the older flat layout (httpMethod,
// path) are accepted.
type event struct {
	Method                string            `json:"method"`
	HTTPMethod            string            `json:"httpMethod"`
	Path                  string            `json:"path"`
	RawPath               string            `json:"rawPath"`
	Headers               map[string]string `json:"headers"`
	QueryParameters       map[string]string `json:"queryParameters"`
	QueryStringParameters map[string]string `json:"queryStringParameters"`
	Body                  string            `json:"body"`
	IsBase64Encoded       bool              `json:"isBase64Encoded"`
	RequestContext        struct {
		HTTP struct {
			Method string `json:"method"`
			Path   string `json:"path"`
		} `json:"http"`
	} `json:"requestContext"`
}

// FromEvent builds an envelope from a cloud-function HTTP trigger event
func FromEvent(raw []byte) (Envelope, error) {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Envelope{}, errors.NewInvalidRequestError("malformed event: %v", err)
	}

	env := Envelope{
		Method:  strings.ToUpper(firstNonEmpty(ev.RequestContext.HTTP.Method, ev.HTTPMethod, ev.Method, http.MethodPost)),
		Path:    firstNonEmpty(ev.RawPath, ev.RequestContext.HTTP.Path, ev.Path),
		Headers: make(map[string]string, len(ev.Headers)),
		Query:   make(map[string]string),
	}
	for k, v := range ev.Headers {
		env.Headers[strings.ToLower(k)] = v
	}
	for k, v := range ev.QueryStringParameters {
		env.Query[k] = v
	}
	for k, v := range ev.QueryParameters {
		env.Query[k] = v
	}

	if ev.IsBase64Encoded {
		body, err := base64.StdEncoding.DecodeString(ev.Body)
		if err != nil {
			return Envelope{}, errors.NewInvalidRequestError("event body is not valid base64")
		}
		env.Body = body
	} else {
		env.Body = []byte(ev.Body)
	}
	if len(env.Body) > MaxBodyBytes {
		return Envelope{}, errors.NewInvalidRequestError("request body exceeds %d bytes", MaxBodyBytes)
	}
	return env, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Response is a hosting-neutral response
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Write sends the response through net/http
func (r Response) Write(w http.ResponseWriter) {
	for k, v := range r.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(r.StatusCode)
	_, _ = w.Write(r.Body)
}

// EventResponse is the cloud-function HTTP trigger response payload
type EventResponse struct {
	StatusCode      int               `json:"statusCode"`
	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
	IsBase64Encoded bool              `json:"isBase64Encoded"`
}

// ToEvent converts the response to the trigger payload
func (r Response) ToEvent() EventResponse {
	return EventResponse{StatusCode: r.StatusCode, Headers: r.Headers, Body: string(r.Body)}
}

func jsonResponse(status int, v interface{}) Response {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response"}`)
	}
	return Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}
