// Package gguf reads the header of GGUF model files far enough to identify
// the model architecture without handing the file to the inference engine.
package gguf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Magic is the little-endian encoding of "GGUF".
const Magic uint32 = 0x46554747

const (
	maxKeyLen    = 1 << 16
	maxStringLen = 1 << 24
	maxKVCount   = 1 << 20
)

// KeyArchitecture is the metadata key holding the architecture name.
const KeyArchitecture = "general.architecture"

// ErrNotGGUF is returned when the file does not start with the GGUF magic.
var ErrNotGGUF = errors.New("not a gguf file")

// ErrMalformed is returned when the header cannot be decoded.
var ErrMalformed = errors.New("malformed gguf header")

// ValueType is the GGUF metadata value type tag.
type ValueType uint32

const (
	TypeUint8 ValueType = iota
	TypeInt8
	TypeUint16
	TypeInt16
	TypeUint32
	TypeInt32
	TypeFloat32
	TypeBool
	TypeString
	TypeArray
	TypeUint64
	TypeInt64
	TypeFloat64
)

var fixedSize = map[ValueType]int64{
	TypeUint8: 1, TypeInt8: 1, TypeBool: 1,
	TypeUint16: 2, TypeInt16: 2,
	TypeUint32: 4, TypeInt32: 4, TypeFloat32: 4,
	TypeUint64: 8, TypeInt64: 8, TypeFloat64: 8,
}

// Header is the subset of the GGUF header the server cares about.
type Header struct {
	Version     uint32
	TensorCount uint64
	KVCount     uint64
	// Strings holds string-valued metadata read before the scan stopped.
	Strings      map[string]string
	Architecture string
}

type decoder struct {
	r       io.Reader
	version uint32
	buf     [8]byte
}

func (d *decoder) u32() (uint32, error) {
	if _, err := io.ReadFull(d.r, d.buf[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(d.buf[:4]), nil
}

func (d *decoder) u64() (uint64, error) {
	if _, err := io.ReadFull(d.r, d.buf[:8]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(d.buf[:8]), nil
}

// count reads a length or count field; version 1 files use 32-bit counts.
func (d *decoder) count() (uint64, error) {
	if d.version == 1 {
		v, err := d.u32()
		return uint64(v), err
	}
	return d.u64()
}

func (d *decoder) str(limit uint64) (string, error) {
	n, err := d.count()
	if err != nil {
		return "", err
	}
	if n > limit {
		return "", fmt.Errorf("%w: string length %d", ErrMalformed, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) skip(n int64) error {
	_, err := io.CopyN(io.Discard, d.r, n)
	return err
}

// skipValue consumes a value of type t without materializing it.
func (d *decoder) skipValue(t ValueType) error {
	if sz, ok := fixedSize[t]; ok {
		return d.skip(sz)
	}
	switch t {
	case TypeString:
		n, err := d.count()
		if err != nil {
			return err
		}
		if n > maxStringLen {
			return fmt.Errorf("%w: string length %d", ErrMalformed, n)
		}
		return d.skip(int64(n))
	case TypeArray:
		et, err := d.u32()
		if err != nil {
			return err
		}
		n, err := d.count()
		if err != nil {
			return err
		}
		elem := ValueType(et)
		if sz, ok := fixedSize[elem]; ok {
			if n > math.MaxInt64/uint64(sz) {
				return fmt.Errorf("%w: array length %d", ErrMalformed, n)
			}
			return d.skip(int64(n) * sz)
		}
		for i := uint64(0); i < n; i++ {
			if err := d.skipValue(elem); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown value type %d", ErrMalformed, t)
	}
}

// ReadHeader decodes the GGUF header from r and scans metadata until the
// architecture key is found. Tensor data is never read.
func ReadHeader(r io.Reader) (Header, error) {
	d := &decoder{r: r}
	var h Header
	magic, err := d.u32()
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrNotGGUF, err)
	}
	if magic != Magic {
		return h, ErrNotGGUF
	}
	if h.Version, err = d.u32(); err != nil {
		return h, fmt.Errorf("%w: version: %v", ErrMalformed, err)
	}
	if h.Version < 1 || h.Version > 3 {
		return h, fmt.Errorf("%w: unsupported version %d", ErrMalformed, h.Version)
	}
	d.version = h.Version
	if h.TensorCount, err = d.count(); err != nil {
		return h, fmt.Errorf("%w: tensor count: %v", ErrMalformed, err)
	}
	if h.KVCount, err = d.count(); err != nil {
		return h, fmt.Errorf("%w: kv count: %v", ErrMalformed, err)
	}
	if h.KVCount > maxKVCount {
		return h, fmt.Errorf("%w: kv count %d", ErrMalformed, h.KVCount)
	}
	h.Strings = make(map[string]string)
	for i := uint64(0); i < h.KVCount; i++ {
		key, err := d.str(maxKeyLen)
		if err != nil {
			return h, fmt.Errorf("%w: key %d: %v", ErrMalformed, i, err)
		}
		t, err := d.u32()
		if err != nil {
			return h, fmt.Errorf("%w: type of %s: %v", ErrMalformed, key, err)
		}
		if ValueType(t) == TypeString {
			v, err := d.str(maxStringLen)
			if err != nil {
				return h, fmt.Errorf("%w: value of %s: %v", ErrMalformed, key, err)
			}
			h.Strings[key] = v
			if key == KeyArchitecture {
				h.Architecture = v
				return h, nil
			}
			continue
		}
		if err := d.skipValue(ValueType(t)); err != nil {
			return h, fmt.Errorf("%w: value of %s: %v", ErrMalformed, key, err)
		}
	}
	return h, fmt.Errorf("%w: missing %s", ErrMalformed, KeyArchitecture)
}

// ReadFile opens path and reads its header.
func ReadFile(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	return ReadHeader(bufio.NewReaderSize(f, 64<<10))
}

// KV is a string metadata pair for WriteHeader.
type KV struct {
	Key   string
	Value string
}

// WriteHeader writes a version 3 header with zero tensors and the given
// string metadata, architecture first. The output is a valid GGUF prefix
// that ReadHeader accepts; it carries no weights.
func WriteHeader(w io.Writer, arch string, extra ...KV) error {
	kvs := append([]KV{{Key: KeyArchitecture, Value: arch}}, extra...)
	var b []byte
	b = binary.LittleEndian.AppendUint32(b, Magic)
	b = binary.LittleEndian.AppendUint32(b, 3)
	b = binary.LittleEndian.AppendUint64(b, 0)
	b = binary.LittleEndian.AppendUint64(b, uint64(len(kvs)))
	for _, kv := range kvs {
		b = binary.LittleEndian.AppendUint64(b, uint64(len(kv.Key)))
		b = append(b, kv.Key...)
		b = binary.LittleEndian.AppendUint32(b, uint32(TypeString))
		b = binary.LittleEndian.AppendUint64(b, uint64(len(kv.Value)))
		b = append(b, kv.Value...)
	}
	_, err := w.Write(b)
	return err
}
