package codec

import "fmt"

// Erase adapts a typed codec to Codec[any] so it can encode attribute values.
// Encode fails for values that are not a V. Useful when every attribute of a
// store holds the same type, e.g. one protobuf message.
func Erase[V any](inner Codec[V]) Codec[any] { return erased[V]{inner: inner} }

type erased[V any] struct{ inner Codec[V] }

func (e erased[V]) Encode(v any) ([]byte, error) {
	tv, ok := v.(V)
	if !ok {
		var zero V
		return nil, fmt.Errorf("codec: value of type %T is not %T", v, zero)
	}
	return e.inner.Encode(tv)
}

func (e erased[V]) Decode(b []byte) (any, error) {
	v, err := e.inner.Decode(b)
	if err != nil {
		return nil, err
	}
	return v, nil
}
