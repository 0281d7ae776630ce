// Package protocol implements the minimal HTTP request-line grammar accepted
// by the command server and the matching response format.
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/cmdgate/internal/command"
)

// Supported request methods.
const (
	MethodGet  = "GET"
	MethodHead = "HEAD"
)

// Parse failure kinds. Use errors.Is against a returned *ParseError.
var (
	ErrUnsupportedMethod = errors.New("unsupported method")
	ErrMalformedCommand  = errors.New("malformed command")
)

// ParseError describes why a request line was rejected. Name and Values
// carry whatever was recognized before the failure so callers can echo it
// back to the client.
type ParseError struct {
	Kind    error
	Method  string
	Name    string
	Values  []string
	Segment string
}

func (e *ParseError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrUnsupportedMethod):
		return fmt.Sprintf("%v: %q", e.Kind, e.Method)
	case e.Segment != "":
		return fmt.Sprintf("%v: %q in command %q", e.Kind, e.Segment, e.Name)
	default:
		return fmt.Sprintf("%v: %q", e.Kind, e.Name)
	}
}

// Unwrap exposes the failure kind to errors.Is.
func (e *ParseError) Unwrap() error {
	return e.Kind
}

// Request is a successfully parsed request line.
type Request struct {
	Method  string
	Command *command.Command
	// Values lists parameter values in the order they appeared on the wire,
	// duplicates included. It is never nil.
	Values []string
}

// IsGet reports whether the request expects a response body.
func (r Request) IsGet() bool {
	return r.Method == MethodGet
}

// ParseRequestLine turns one raw request line such as
// "GET /play?file=a.mp3&volume=10 HTTP/1.1" into a Request. Parameters are
// taken byte-literally; no percent-decoding is applied. A single malformed
// key=value segment fails the whole parse.
func ParseRequestLine(line string) (Request, error) {
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	method := ""
	if len(fields) > 0 {
		method = fields[0]
	}
	if method != MethodGet && method != MethodHead {
		return Request{}, &ParseError{Kind: ErrUnsupportedMethod, Method: method}
	}
	if len(fields) < 2 {
		return Request{}, &ParseError{Kind: ErrMalformedCommand, Method: method}
	}

	parts := splitDropTrailing(fields[1], "?")
	path := ""
	if len(parts) > 0 {
		path = parts[0]
	}
	name := strings.TrimPrefix(path, "/")
	if !strings.HasPrefix(path, "/") || len(parts) > 2 || (len(parts) == 2 && len(path) < 2) {
		return Request{}, &ParseError{Kind: ErrMalformedCommand, Method: method, Name: name}
	}

	cmd := &command.Command{}
	cmd.SetName(name)
	values := []string{}
	if len(parts) < 2 {
		return Request{Method: method, Command: cmd, Values: values}, nil
	}

	for _, segment := range splitDropTrailing(parts[1], "&") {
		kv := strings.Split(segment, "=")
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return Request{}, &ParseError{
				Kind:    ErrMalformedCommand,
				Method:  method,
				Name:    name,
				Values:  values,
				Segment: segment,
			}
		}
		if _, err := cmd.Put(kv[0], kv[1]); err != nil {
			return Request{}, &ParseError{
				Kind:    ErrMalformedCommand,
				Method:  method,
				Name:    name,
				Values:  values,
				Segment: segment,
			}
		}
		values = append(values, kv[1])
	}
	return Request{Method: method, Command: cmd, Values: values}, nil
}

// splitDropTrailing splits s on sep and drops trailing empty tokens, so
// "/play?" yields ["/play"] and "a=1&" yields ["a=1"].
func splitDropTrailing(s, sep string) []string {
	parts := strings.Split(s, sep)
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}
