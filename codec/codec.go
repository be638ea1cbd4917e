// Package codec defines the serialization contract for stored blobs —
// job results and dead-letter snapshots. Implementations handle
// encoding/decoding values to/from bytes.
package codec

// Codec encodes and decodes stored values.
type Codec interface {
	// Marshal serializes a value to bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into the given value.
	Unmarshal(data []byte, v any) error

	// Name returns the codec identifier (e.g., "json", "msgpack").
	Name() string
}

// Name constants for codec selection.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Get returns a codec by name. Defaults to JSON.
func Get(name string) Codec {
	switch name {
	case NameMsgpack:
		return Msgpack{}
	case NameJSON, "":
		return JSON{}
	default:
		return JSON{}
	}
}
