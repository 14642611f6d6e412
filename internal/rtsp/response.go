package rtsp

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

type Response struct {
	Version  string
	Code     int
	Message  string
	Sequence int
	Header   http.Header
	Body     []byte
}

// Session returns the session id without its timeout parameter.
func (r *Response) Session() string {
	return strings.TrimSpace(strings.Split(r.Header.Get("Session"), ";")[0])
}

// parseStatusLine reads "RTSP/1.0 200 OK".
func parseStatusLine(line string) (version string, code int, message string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "RTSP/") {
		return "", 0, "", fmt.Errorf("malformed status line %q", line)
	}
	code, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to parse response code: %w", err)
	}
	if len(parts) == 3 {
		message = parts[2]
	}
	return strings.TrimPrefix(parts[0], "RTSP/"), code, message, nil
}
