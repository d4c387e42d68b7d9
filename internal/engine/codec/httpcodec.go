package codec

// Limits are the HTTP/1.x parser limits named in spec section 6.1's options
// table: maxInitialLineLength, maxHeaderSize, maxChunkSize. Only the
// per-chunk size is enforced, by the chunked body reader in reader.go and
// engine/conn's body streaming; maxInitialLineLength and maxHeaderSize are
// carried through the options but no parser applies them.
type Limits struct {
	MaxInitialLineLength int
	MaxHeaderSize        int
	MaxChunkSize         int
}

// DefaultLimits matches the defaults in spec section 6.1's options table.
func DefaultLimits() Limits {
	return Limits{
		MaxInitialLineLength: 8192,
		MaxHeaderSize:        16384,
		MaxChunkSize:         16384,
	}
}

// AggregatorSize computes the size an optional http-object-aggregator stage
// should use, per spec section 4.2 stage 6: "sized to max(filter buffer
// request/response limits) when any filter requests aggregation".
func AggregatorSize(requested ...int) int {
	max := 0
	for _, r := range requested {
		if r > max {
			max = r
		}
	}
	return max
}
