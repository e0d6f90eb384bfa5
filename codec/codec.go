// Package codec turns session attribute values into bytes and back.
//
// Byte-oriented backends (the Redis and SQL stores, the provider-backed
// session cache) hold attribute values as opaque payloads; a Codec[any]
// decides their representation. JSON is readable but decodes numbers as
// float64. Msgpack and CBOR keep integer types closer to what was written.
//
// When every attribute holds one protobuf message type, wrap a Protobuf codec
// with Erase and hand it to a store:
//
//	vc := codec.Erase[*cartpb.Cart](codec.NewProtobuf(func() *cartpb.Cart { return &cartpb.Cart{} }))
//	st := redisstore.New(rdb, redisstore.Options{Codec: vc})
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Default is the codec used for attribute values when none is configured.
func Default() Codec[any] { return Msgpack[any]{} }
