package codec

// Codec serializes envelopes for the wire.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	// Valid reports whether data is well-formed in the codec's format.
	Valid(data []byte) bool
	ContentType() string
}

// Default returns the codec used when none is configured.
func Default() Codec {
	return &JSONCodec{}
}
