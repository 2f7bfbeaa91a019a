package codecs

import jsoniter "github.com/json-iterator/go"

// JSONIterCodec encodes with json-iterator. Map keys are sorted, so equal
// documents encode to equal bytes; dedupe windows rely on that.
type JSONIterCodec struct {
	api jsoniter.API
}

func NewJSONIter() *JSONIterCodec {
	return &JSONIterCodec{api: jsoniter.ConfigCompatibleWithStandardLibrary}
}

// NewJSONIterNumbers decodes numbers into json.Number instead of float64,
// keeping large integers exact.
func NewJSONIterNumbers() *JSONIterCodec {
	return &JSONIterCodec{api: jsoniter.Config{
		EscapeHTML:             true,
		SortMapKeys:            true,
		ValidateJsonRawMessage: true,
		UseNumber:              true,
	}.Froze()}
}

func (c *JSONIterCodec) Marshal(v any) ([]byte, error) {
	return c.api.Marshal(v)
}

func (c *JSONIterCodec) Unmarshal(data []byte, v any) error {
	return c.api.Unmarshal(data, v)
}
