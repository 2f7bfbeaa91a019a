package codecs

// Codec marshals and unmarshals values to and from bytes. Binders use it
// for stored documents and commands use it for event bodies.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Default is the codec used when none is configured.
func Default() Codec {
	return NewJSONIter()
}
