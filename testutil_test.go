package grpccore

// stringCodec is a trivial encoding.Codec used across tests: it marshals
// *string values directly to/from their bytes, avoiding any dependency on a
// real protobuf-generated message type.
type stringCodec struct{}

func (stringCodec) Marshal(v interface{}) ([]byte, error) {
	s := v.(*string)
	return []byte(*s), nil
}

func (stringCodec) Unmarshal(data []byte, v interface{}) error {
	s := v.(*string)
	*s = string(data)
	return nil
}

func (stringCodec) Name() string { return "string" }
