package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version    byte = 1
	kindRecord byte = 1
)

var (
	ErrCorrupt = errors.New("sessioncache: corrupt entry")
	ErrTooLong = errors.New("sessioncache: field too long for frame")
	magic4     = [...]byte{'S', 'E', 'S', 'S'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Attr is one encoded attribute. Payload is produced by the caller's codec.
type Attr struct {
	Name    string
	Payload []byte
}

// Record is the clean (no pending changes) state of one session.
type Record struct {
	ID              string
	Principal       string
	Generation      uint64
	Created         time.Time
	LastAccessed    time.Time
	AuthenticatedAt time.Time
	VerifiedAt      time.Time
	MaxInactive     time.Duration
	Attrs           []Attr
}

// Record frame:
//
//	magic(4) | ver(1) | kind(1=record) | gen(u64 be)
//	created | lastAccessed | authenticatedAt | verifiedAt (i64 be unix nanos, 0 = unset)
//	maxInactive(i64 be nanos)
//	idLen(u16 be) | id | principalLen(u16 be) | principal
//	n(u32 be) | [nameLen(u16 be) | name | vlen(u32 be) | payload] * n
func EncodeRecord(r Record) ([]byte, error) {
	if len(r.ID) == 0 || len(r.ID) > 0xFFFF || len(r.Principal) > 0xFFFF {
		return nil, ErrTooLong
	}
	total := 4 + 1 + 1 + 8 + 5*8 + 2 + len(r.ID) + 2 + len(r.Principal) + 4
	for _, a := range r.Attrs {
		if l := len(a.Name); l == 0 || l > 0xFFFF {
			return nil, ErrTooLong
		}
		total += 2 + len(a.Name) + 4 + len(a.Payload)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindRecord)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], r.Generation)
	buf.Write(u8[:])

	for _, t := range [...]time.Time{r.Created, r.LastAccessed, r.AuthenticatedAt, r.VerifiedAt} {
		binary.BigEndian.PutUint64(u8[:], uint64(timeNanos(t)))
		buf.Write(u8[:])
	}
	binary.BigEndian.PutUint64(u8[:], uint64(r.MaxInactive))
	buf.Write(u8[:])

	for _, s := range [...]string{r.ID, r.Principal} {
		binary.BigEndian.PutUint16(u2[:], uint16(len(s)))
		buf.Write(u2[:])
		buf.WriteString(s)
	}

	binary.BigEndian.PutUint32(u4[:], uint32(len(r.Attrs)))
	buf.Write(u4[:])
	for _, a := range r.Attrs {
		binary.BigEndian.PutUint16(u2[:], uint16(len(a.Name)))
		buf.Write(u2[:])
		buf.WriteString(a.Name)

		binary.BigEndian.PutUint32(u4[:], uint32(len(a.Payload)))
		buf.Write(u4[:])
		buf.Write(a.Payload)
	}
	return buf.Bytes(), nil
}

// DecodeRecord parses a record frame. Attribute payloads alias b.
func DecodeRecord(b []byte) (Record, error) {
	const hdr = 4 + 1 + 1 + 8 + 5*8
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindRecord {
		return Record{}, ErrCorrupt
	}
	off := 6

	var r Record
	r.Generation = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	times := [4]*time.Time{&r.Created, &r.LastAccessed, &r.AuthenticatedAt, &r.VerifiedAt}
	for _, t := range times {
		*t = nanosTime(int64(binary.BigEndian.Uint64(b[off : off+8])))
		off += 8
	}
	r.MaxInactive = time.Duration(int64(binary.BigEndian.Uint64(b[off : off+8])))
	off += 8

	var ok bool
	if r.ID, off, ok = readString(b, off); !ok || r.ID == "" {
		return Record{}, ErrCorrupt
	}
	if r.Principal, off, ok = readString(b, off); !ok {
		return Record{}, ErrCorrupt
	}

	if off+4 > len(b) {
		return Record{}, ErrCorrupt
	}
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	// every attribute takes at least 2+1+4 bytes
	if n < 0 || n > (len(b)-off)/7 {
		return Record{}, ErrCorrupt
	}

	r.Attrs = make([]Attr, 0, n)
	for i := 0; i < n; i++ {
		var name string
		if name, off, ok = readString(b, off); !ok || name == "" {
			return Record{}, ErrCorrupt
		}
		if off+4 > len(b) {
			return Record{}, ErrCorrupt
		}
		vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if vlen < 0 || vlen > len(b)-off { // overflow-safe bound check
			return Record{}, ErrCorrupt
		}
		r.Attrs = append(r.Attrs, Attr{Name: name, Payload: b[off : off+vlen]})
		off += vlen
	}
	if off != len(b) {
		return Record{}, ErrCorrupt
	}
	return r, nil
}

func readString(b []byte, off int) (string, int, bool) {
	if off+2 > len(b) {
		return "", off, false
	}
	l := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if l > len(b)-off {
		return "", off, false
	}
	return string(b[off : off+l]), off + l, true
}

func timeNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nanosTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
