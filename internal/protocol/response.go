package protocol

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Status codes emitted by the command server.
const (
	StatusOK         = http.StatusOK
	StatusBadRequest = http.StatusBadRequest
	StatusNoHandler  = http.StatusMethodNotAllowed
)

const (
	crlf        = "\r\n"
	contentType = "text/html"
	noCmdName   = "[noCmdName]"
)

// Response is a minimal HTTP response. A nil Body produces a status line
// followed by a bare CRLF.
type Response struct {
	Status int
	Reason string
	Body   *string
}

// OK returns a 200 response carrying page. An empty page is still sent as a
// body so clients get a well-formed Content-Length of zero.
func OK(page string) Response {
	return Response{Status: StatusOK, Reason: "OK", Body: &page}
}

// BadMethod returns the 400 response for an unsupported request method.
func BadMethod(method string) Response {
	short := "Unsupported Method"
	body := ErrorBody(short, "The command server only accepts GET and HEAD requests; received: ", method)
	return Response{Status: StatusBadRequest, Reason: short, Body: &body}
}

// Malformed returns the 400 response echoing the partially parsed call.
func Malformed(name string, values []string) Response {
	short := "Malformed Command Request"
	body := ErrorBody(short, "The command request was malformed: ", EchoCall(name, values))
	return Response{Status: StatusBadRequest, Reason: short, Body: &body}
}

// NoHandler returns the 405 response sent when nobody subscribes to name.
func NoHandler(name string, values []string) Response {
	short := "No Command Handler Running"
	body := ErrorBody(short, "The command server has no command handler running for: ", EchoCall(name, values))
	return Response{Status: StatusNoHandler, Reason: short, Body: &body}
}

// ErrorBody renders the HTML body used by error and no-handler responses.
func ErrorBody(short, detail, subject string) string {
	return "<html><page><h2>" + short + "</h2>\n" + detail + subject + ".\n</body></html>"
}

// EchoCall formats a command as a function call, e.g. play(a.mp3,10). An
// empty name is shown as [noCmdName].
func EchoCall(name string, values []string) string {
	if name == "" {
		name = noCmdName
	}
	return name + "(" + strings.Join(values, ",") + ")"
}

// SplitEchoCall inverts EchoCall. It reports false when s is not shaped like
// name(v1,...).
func SplitEchoCall(s string) (string, []string, bool) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return "", nil, false
	}
	name := s[:open]
	inner := s[open+1 : len(s)-1]
	if inner == "" {
		return name, []string{}, true
	}
	return name, strings.Split(inner, ","), true
}

// WriteResponse serializes resp to w. now stamps the Date header.
func WriteResponse(w io.Writer, resp Response, now time.Time) error {
	bw := bufio.NewWriter(w)
	reason := resp.Reason
	if reason == "" {
		reason = http.StatusText(resp.Status)
	}
	fmt.Fprintf(bw, "HTTP/1.1 %d %s%s", resp.Status, reason, crlf)
	if resp.Body == nil {
		bw.WriteString(crlf)
	} else {
		body := *resp.Body
		bw.WriteString("Date: " + now.UTC().Format(http.TimeFormat) + crlf)
		bw.WriteString("Content-Type: " + contentType + crlf)
		bw.WriteString("Content-Length: " + strconv.Itoa(len(body)) + crlf)
		bw.WriteString(crlf)
		bw.WriteString(body)
		bw.WriteString(crlf)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
