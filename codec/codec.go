// Package codec defines the value serialization contract used by authcache
// and ships codecs for the common formats (JSON, msgpack, CBOR, protobuf)
// plus identity and size-limit wrappers.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
