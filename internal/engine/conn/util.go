package conn

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/relaycore/relay/internal/core/domain"
)

// targetHostAndPort determines the host:port to dial for req, per spec
// section 4.4 step 9: "from URI if absolute, from Host if origin-form
// allowed". defaultPort is appended when neither the authority nor the Host
// header carries an explicit port.
func targetHostAndPort(req *http.Request, defaultPort string) (domain.HostPort, error) {
	var authority string
	if req.URL.IsAbs() {
		authority = req.URL.Host
	} else if req.Host != "" {
		authority = req.Host
	} else {
		return "", fmt.Errorf("conn: request has neither absolute URI nor Host header")
	}
	host, port, err := net.SplitHostPort(authority)
	if err != nil {
		// No explicit port.
		host = authority
		port = defaultPort
	}
	return domain.HostPort(net.JoinHostPort(host, port)), nil
}

// isOriginForm reports whether req's request-target lacks scheme and
// authority, per the GLOSSARY's "Origin-form URI" entry.
func isOriginForm(req *http.Request) bool {
	return !req.URL.IsAbs() && req.Method != http.MethodConnect
}

// writeStatusResponse writes a minimal plaintext HTTP response directly to
// w, used for the synthesized 400/407/502/504 responses spec section 7
// describes ("the body is a short plaintext explanation").
func writeStatusResponse(w *bufio.Writer, statusCode int, extraHeaders map[string]string, body string) error {
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", statusCode, http.StatusText(statusCode))
	fmt.Fprintf(w, "Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(w, "Content-Length: %d\r\n", len(body))
	for k, v := range extraHeaders {
		fmt.Fprintf(w, "%s: %s\r\n", k, v)
	}
	fmt.Fprintf(w, "Connection: close\r\n\r\n")
	if _, err := w.WriteString(body); err != nil {
		return err
	}
	return w.Flush()
}

func parseBasicAuth(header string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	req := &http.Request{Header: http.Header{"Authorization": []string{header}}}
	return req.BasicAuth()
}
