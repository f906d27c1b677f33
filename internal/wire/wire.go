package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version   byte = 1
	kindEntry byte = 1

	// MaxTags and MaxTagLen bound what the u16 length fields can carry.
	// Callers validate tags against these before framing; EncodeEntry
	// treats a violation as a broken invariant.
	MaxTags   = 0xFFFF
	MaxTagLen = 0xFFFF
)

var (
	ErrCorrupt = errors.New("authcache: corrupt entry")
	magic4     = [...]byte{'A', 'C', 'H', 'E'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry: magic(4) | ver(1) | kind(1=entry) | exp(i64 be, unixnano; 0 = no expiry)
//
//	| ntags(u16 be) | { tlen(u16 be) | tag }* | vlen(u32 be) | payload(vlen)
func EncodeEntry(expiresAt time.Time, tags []string, payload []byte) []byte {
	if len(tags) > MaxTags {
		panic("authcache: too many tags in entry")
	}

	total := 4 + 1 + 1 + 8 + 2
	for _, t := range tags {
		if l := len(t); l == 0 || l > MaxTagLen {
			panic("authcache: invalid tag length in entry")
		}
		total += 2 + len(t)
	}
	total += 4 + len(payload)

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	var exp int64
	if !expiresAt.IsZero() {
		exp = expiresAt.UnixNano()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(exp))
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(tags)))
	buf.Write(u2[:])
	for _, t := range tags {
		binary.BigEndian.PutUint16(u2[:], uint16(len(t)))
		buf.Write(u2[:])
		buf.WriteString(t)
	}

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])
	buf.Write(payload)

	return buf.Bytes()
}

func DecodeEntry(b []byte) (expiresAt time.Time, tags []string, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 2
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return time.Time{}, nil, nil, ErrCorrupt
	}

	off := 6

	exp := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	if exp != 0 {
		expiresAt = time.Unix(0, exp)
	}

	ntags := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if ntags > 0 {
		tags = make([]string, 0, ntags)
	}
	for i := 0; i < ntags; i++ {
		if off+2 > len(b) {
			return time.Time{}, nil, nil, ErrCorrupt
		}
		tlen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if tlen == 0 || tlen > len(b)-off {
			return time.Time{}, nil, nil, ErrCorrupt
		}
		tags = append(tags, string(b[off:off+tlen]))
		off += tlen
	}

	if off+4 > len(b) {
		return time.Time{}, nil, nil, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen > len(b)-off { // overflow-safe bound check
		return time.Time{}, nil, nil, ErrCorrupt
	}

	return expiresAt, tags, b[off : off+vlen], nil
}
