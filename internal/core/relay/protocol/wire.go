package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-formnet/pkg/types"
)

// 长度上限，防止畸形长度前缀导致大块分配
const (
	MaxRegionLen   = 64
	MaxEndpointLen = 255
	MaxEndpoints   = 16
	MaxRelays      = 32
	MaxReasonLen   = 255
)

const headerLen = 2

func appendHeader(b []byte, t MessageType) []byte {
	return append(b, byte(t), Version)
}

func appendKey(b []byte, k types.PeerKey) []byte {
	return append(b, k[:]...)
}

func appendUvarint(b []byte, v uint64) []byte {
	return append(b, varint.ToUvarint(v)...)
}

func appendBytes(b, v []byte) []byte {
	return append(appendUvarint(b, uint64(len(v))), v...)
}

func appendString(b []byte, s string, limit int) ([]byte, error) {
	if len(s) > limit {
		return nil, fmt.Errorf("%w: string of %d bytes exceeds %d", ErrSerialization, len(s), limit)
	}
	return appendBytes(b, []byte(s)), nil
}

// appendOptString 空字符串编码为 None
func appendOptString(b []byte, s string, limit int) ([]byte, error) {
	if s == "" {
		return append(b, 0), nil
	}
	return appendString(append(b, 1), s, limit)
}

// reader 顺序读取消息体，任何越界都返回 ErrSerialization
type reader struct {
	buf []byte
	off int
}

func newReader(data []byte, want MessageType) (*reader, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: short header", ErrSerialization)
	}
	if MessageType(data[0]) != want {
		return nil, fmt.Errorf("%w: type %d, want %s", ErrSerialization, data[0], want)
	}
	if data[1] != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSerialization, data[1])
	}
	return &reader{buf: data, off: headerLen}, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || len(r.buf)-r.off < n {
		return nil, fmt.Errorf("%w: truncated at offset %d", ErrSerialization, r.off)
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v, nil
}

func (r *reader) u8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) key() (types.PeerKey, error) {
	var k types.PeerKey
	b, err := r.take(types.PeerKeySize)
	if err != nil {
		return k, err
	}
	copy(k[:], b)
	return k, nil
}

func (r *reader) bool() (bool, error) {
	v, err := r.u8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: invalid bool %d", ErrSerialization, v)
	}
}

func (r *reader) uvarint() (uint64, error) {
	v, n, err := varint.FromUvarint(r.buf[r.off:])
	if err != nil {
		return 0, fmt.Errorf("%w: length prefix: %v", ErrSerialization, err)
	}
	r.off += n
	return v, nil
}

// bytes 读取带长度前缀的字节串，返回值引用底层缓冲区
func (r *reader) bytes(limit int) ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(limit) {
		return nil, fmt.Errorf("%w: length %d exceeds %d", ErrSerialization, n, limit)
	}
	return r.take(int(n))
}

func (r *reader) string(limit int) (string, error) {
	b, err := r.bytes(limit)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// optString Some("") 不合法：空字符串保留给 None
func (r *reader) optString(limit int) (string, error) {
	present, err := r.bool()
	if err != nil || !present {
		return "", err
	}
	s, err := r.string(limit)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%w: empty optional string", ErrSerialization)
	}
	return s, nil
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) done() error {
	if n := r.remaining(); n != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrSerialization, n)
	}
	return nil
}
