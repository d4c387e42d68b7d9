package conn

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/relaycore/relay/internal/core/ports"
	"github.com/relaycore/relay/internal/engine/codec"
)

// errBodyAborted marks a transfer stopped mid-stream because a chunk's
// filter hook returned an error, or because a short-circuit response arrived
// on a chunk after the first one. Earlier bytes are usually already
// committed to the destination writer by the time a later chunk streams, so
// there is nothing left to substitute a response into - the transfer just
// stops.
var errBodyAborted = errors.New("conn: body filter aborted transfer")

// chunkSource abstracts how a body's wire framing is decoded: codec.ChunkReader
// for Transfer-Encoding: chunked, a length-bounded reader otherwise. Neither
// variant touches the *http.Request/*http.Response's own Body field - both
// read directly off the connection's bufio.Reader before anything else has,
// so the original dechunking http.Request.Body/http.Response.Body can be
// discarded unread and replaced with a wrapper built around one of these.
type chunkSource interface {
	next(maxChunkSize int) (data []byte, last bool, err error)
}

type rawChunkSource struct{ cr *codec.ChunkReader }

func (s rawChunkSource) next(maxChunkSize int) ([]byte, bool, error) {
	return s.cr.ReadChunk()
}

// lengthBoundSource reads a Content-Length-framed (or close-delimited, when
// remaining < 0) body directly off br in maxChunkSize pieces.
type lengthBoundSource struct {
	br        *bufio.Reader
	remaining int64
	eof       bool
}

func (s *lengthBoundSource) next(maxChunkSize int) ([]byte, bool, error) {
	if s.eof {
		return nil, true, nil
	}
	n := maxChunkSize
	if s.remaining >= 0 && int64(n) > s.remaining {
		n = int(s.remaining)
	}
	if n == 0 {
		s.eof = true
		return nil, true, nil
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(s.br, buf)
	if s.remaining >= 0 {
		s.remaining -= int64(read)
	}
	switch {
	case err == nil:
		return buf[:read], false, nil
	case err == io.ErrUnexpectedEOF || err == io.EOF:
		s.eof = true
		if read == 0 {
			return nil, true, nil
		}
		return buf[:read], false, nil
	default:
		return nil, false, err
	}
}

// isChunkedEncoding reports whether te names "chunked" as its final coding,
// the only place http.Request/http.Response ever puts it.
func isChunkedEncoding(te []string) bool {
	return len(te) > 0 && te[len(te)-1] == "chunked"
}

// newBodySource picks the chunkSource matching a message's declared framing,
// enforcing maxChunkSize by construction: a chunked body is decoded by
// codec.ChunkReader (which rejects an oversized declared chunk outright), and
// every other body is read in maxChunkSize pieces regardless of how it
// declares its own length.
func newBodySource(br *bufio.Reader, transferEncoding []string, contentLength int64, maxChunkSize int) chunkSource {
	if isChunkedEncoding(transferEncoding) {
		return rawChunkSource{cr: codec.NewChunkReader(br, maxChunkSize)}
	}
	return &lengthBoundSource{br: br, remaining: contentLength}
}

// requestBodyHook composes the two request-body filter hooks (spec section
// 4.6: ClientToProxyRequestBody runs as the proxy receives from the client,
// ProxyToServerRequestBody runs as it sends to the server) into the single
// per-chunk call filterBody needs, since both hooks observe the same bytes
// read once off the client connection.
func requestBodyHook(filters ports.HttpFilters) func(ports.BodyChunk) (*http.Response, error) {
	return func(chunk ports.BodyChunk) (*http.Response, error) {
		if resp, err := filters.ClientToProxyRequestBody(chunk); err != nil || resp != nil {
			return resp, err
		}
		return filters.ProxyToServerRequestBody(chunk)
	}
}

// responseBodyHook composes ServerToProxyResponseBody and
// ProxyToClientResponseBody into the single mutating hook mutatingBody needs.
func responseBodyHook(filters ports.HttpFilters) func(ports.BodyChunk) (ports.BodyChunk, error) {
	return func(chunk ports.BodyChunk) (ports.BodyChunk, error) {
		next, err := filters.ServerToProxyResponseBody(chunk)
		if err != nil {
			return ports.BodyChunk{}, err
		}
		return filters.ProxyToClientResponseBody(next)
	}
}

// filterBody streams a request body through requestBodyHook while enforcing
// maxChunkSize and shaping read throughput. Only the first chunk's hook
// result may short-circuit the request with a substitute response: by the
// time a later chunk is fetched, earlier bytes are typically already
// written to the upstream connection (forward writes the request as one
// call, streaming the body as it goes), so a later short-circuit attempt or
// hook error instead aborts the transfer with errBodyAborted.
type filterBody struct {
	ctx          context.Context
	src          chunkSource
	maxChunkSize int
	hook         func(ports.BodyChunk) (*http.Response, error)
	shaper       *codec.TrafficShaper
	onStart      func()
	onDone       func()

	pending      []byte
	srcDone      bool
	peeked       bool
	started      bool
	ShortCircuit *http.Response
}

func newFilterBody(ctx context.Context, src chunkSource, maxChunkSize int, hook func(ports.BodyChunk) (*http.Response, error), shaper *codec.TrafficShaper, onStart, onDone func()) *filterBody {
	return &filterBody{ctx: ctx, src: src, maxChunkSize: maxChunkSize, hook: hook, shaper: shaper, onStart: onStart, onDone: onDone}
}

func (f *filterBody) fetch() error {
	if f.srcDone {
		return nil
	}
	if !f.started {
		f.started = true
		if f.onStart != nil {
			f.onStart()
		}
	}
	data, last, err := f.src.next(f.maxChunkSize)
	if err != nil {
		return err
	}
	if f.shaper != nil && len(data) > 0 {
		if err := f.shaper.WaitRead(f.ctx, len(data)); err != nil {
			return err
		}
	}
	resp, err := f.hook(ports.BodyChunk{Data: data, Last: last})
	if err != nil {
		return errBodyAborted
	}
	if resp != nil {
		f.ShortCircuit = resp
		f.srcDone = true
		return nil
	}
	f.pending = append(f.pending, data...)
	if last {
		f.srcDone = true
		if f.onDone != nil {
			f.onDone()
		}
	}
	return nil
}

// Peek filters the first chunk before forward's caller writes anything to
// the destination, so a short-circuit response on that first chunk can
// still be honoured instead of discarded.
func (f *filterBody) Peek() error {
	if f.peeked {
		return nil
	}
	f.peeked = true
	return f.fetch()
}

func (f *filterBody) Read(p []byte) (int, error) {
	if err := f.Peek(); err != nil {
		return 0, err
	}
	if f.ShortCircuit != nil {
		return 0, io.EOF
	}
	for len(f.pending) == 0 {
		if f.srcDone {
			return 0, io.EOF
		}
		wasShortCircuit := f.ShortCircuit != nil
		if err := f.fetch(); err != nil {
			return 0, err
		}
		if !wasShortCircuit && f.ShortCircuit != nil {
			return 0, errBodyAborted
		}
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *filterBody) Close() error { return nil }

// mutatingBody streams a response body through responseBodyHook, which may
// only transform each chunk's bytes (per the BodyChunk-returning signature
// of ServerToProxyResponseBody/ProxyToClientResponseBody - neither can
// short-circuit, since the response status line is already committed by the
// time a body hook runs).
type mutatingBody struct {
	ctx          context.Context
	src          chunkSource
	maxChunkSize int
	hook         func(ports.BodyChunk) (ports.BodyChunk, error)
	shaper       *codec.TrafficShaper
	onStart      func()
	onDone       func()

	pending []byte
	srcDone bool
	started bool
}

func newMutatingBody(ctx context.Context, src chunkSource, maxChunkSize int, hook func(ports.BodyChunk) (ports.BodyChunk, error), shaper *codec.TrafficShaper, onStart, onDone func()) *mutatingBody {
	return &mutatingBody{ctx: ctx, src: src, maxChunkSize: maxChunkSize, hook: hook, shaper: shaper, onStart: onStart, onDone: onDone}
}

func (m *mutatingBody) Read(p []byte) (int, error) {
	for len(m.pending) == 0 {
		if m.srcDone {
			return 0, io.EOF
		}
		if !m.started {
			m.started = true
			if m.onStart != nil {
				m.onStart()
			}
		}
		data, last, err := m.src.next(m.maxChunkSize)
		if err != nil {
			return 0, err
		}
		chunk, err := m.hook(ports.BodyChunk{Data: data, Last: last})
		if err != nil {
			return 0, errBodyAborted
		}
		if m.shaper != nil && len(chunk.Data) > 0 {
			if err := m.shaper.WaitWrite(m.ctx, len(chunk.Data)); err != nil {
				return 0, err
			}
		}
		m.pending = append(m.pending, chunk.Data...)
		if last {
			m.srcDone = true
			if m.onDone != nil {
				m.onDone()
			}
		}
	}
	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *mutatingBody) Close() error { return nil }
