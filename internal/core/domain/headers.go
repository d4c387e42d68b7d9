package domain

import (
	"net/http"
	"strings"
)

// HopByHopHeaders are the headers spec section 4.4 rule 6 requires every
// forwarded request and response to have stripped, in addition to whatever
// headers the incoming Connection token list itself names.
var HopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// StripHopByHopHeaders removes the fixed hop-by-hop set plus every header
// named in the Connection header's token list, matching spec section 4.4.
// Upgrade is preserved when the caller is about to broker a protocol
// upgrade (see WebSocket handling in engine/conn); callers that need to keep
// it pass keepUpgrade=true.
func StripHopByHopHeaders(h http.Header, keepUpgrade bool) {
	for _, token := range connectionTokens(h) {
		if keepUpgrade && strings.EqualFold(token, "Upgrade") {
			continue
		}
		h.Del(token)
	}
	for _, name := range HopByHopHeaders {
		if keepUpgrade && (name == "Connection" || name == "Upgrade") {
			continue
		}
		h.Del(name)
	}
}

func connectionTokens(h http.Header) []string {
	var tokens []string
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				tokens = append(tokens, tok)
			}
		}
	}
	return tokens
}

// AppendVia appends this hop's identification to the Via header, per spec
// section 3 ("the chosen proxyAlias must appear exactly once per hop").
func AppendVia(h http.Header, protoMajor, protoMinor int, proxyAlias string) {
	entry := httpVersionString(protoMajor, protoMinor) + " " + proxyAlias
	existing := h.Get("Via")
	if existing == "" {
		h.Set("Via", entry)
		return
	}
	h.Set("Via", existing+", "+entry)
}

func httpVersionString(major, minor int) string {
	switch {
	case major == 1 && minor == 0:
		return "1.0"
	case major == 1 && minor == 1:
		return "1.1"
	default:
		return "1.1"
	}
}

// IsWebSocketUpgrade reports whether the request is brokering a WebSocket
// upgrade per the supplemented feature in SPEC_FULL.md section 5.4: an
// Upgrade token of "websocket" alongside a Connection token of "Upgrade".
func IsWebSocketUpgrade(h http.Header) bool {
	if !strings.EqualFold(h.Get("Upgrade"), "websocket") {
		return false
	}
	for _, tok := range connectionTokens(h) {
		if strings.EqualFold(tok, "Upgrade") {
			return true
		}
	}
	return false
}
