package codec

import (
	"bytes"
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestAttributeCodecsPreserveStrings(t *testing.T) {
	codecs := map[string]Codec[any]{
		"json":    JSON[any]{},
		"msgpack": Msgpack[any]{},
		"cbor":    MustCBOR[any](true),
	}
	for name, c := range codecs {
		b, err := c.Encode("cart-42")
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		v, err := c.Decode(b)
		if err != nil {
			t.Fatalf("%s decode: %v", name, err)
		}
		if v != "cart-42" {
			t.Fatalf("%s round trip: got %#v", name, v)
		}
	}
}

func TestCBORDecodesMapsWithStringKeys(t *testing.T) {
	c := MustCBOR[any](false)
	b, err := c.Encode(map[string]any{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["k"] != "v" {
		t.Fatalf("decoded %#v (%T)", v, v)
	}
}

func TestDeterministicCBORIsStable(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	a, _ := c.Encode(map[string]int{"b": 2, "a": 1, "c": 3})
	b, _ := c.Encode(map[string]int{"c": 3, "a": 1, "b": 2})
	if !bytes.Equal(a, b) {
		t.Fatalf("deterministic encoding differs: %x vs %x", a, b)
	}
}

func TestLimitCodecRejectsOversized(t *testing.T) {
	c := LimitCodec[any]{Inner: JSON[any]{}, MaxDecode: 4}
	if _, err := c.Decode([]byte(`"too long"`)); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected size error, got %v", err)
	}
	if v, err := c.Decode([]byte(`12`)); err != nil || v != float64(12) {
		t.Fatalf("small payload: v=%v err=%v", v, err)
	}
}

func TestEraseWrapsProtobuf(t *testing.T) {
	c := Erase[*wrapperspb.StringValue](NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }))

	b, err := c.Encode(wrapperspb.String("hello"))
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if sv, ok := v.(*wrapperspb.StringValue); !ok || sv.GetValue() != "hello" {
		t.Fatalf("decoded %#v", v)
	}

	if _, err := c.Encode("not a message"); err == nil {
		t.Fatal("expected type error for foreign value")
	}
}
