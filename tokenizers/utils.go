package tokenizers

import (
	"unsafe"
)

func TokensFromBuf(buf Buffer) []string {
	if buf.Tokens == nil || buf.Len == 0 {
		return nil
	}
	ptrs := unsafe.Slice(buf.Tokens, buf.Len) // []*byte
	out := make([]string, 0, len(ptrs))

	for _, p := range ptrs {
		if p == nil {
			continue
		}
		q := unsafe.Pointer(p)
		var n uintptr
		for *(*byte)(unsafe.Add(q, n)) != 0 {
			n++
		}
		// copy: the library frees the strings with the buffer
		out = append(out, string(unsafe.Slice((*byte)(q), int(n))))
	}
	return out
}

// OffsetsFromBuf flattens the (start, end) pairs of the buffer.
func OffsetsFromBuf(buf Buffer) []uint32 {
	if buf.Offsets == nil || buf.Len == 0 {
		return nil
	}
	pairs := unsafe.Slice((*[2]uint)(unsafe.Pointer(buf.Offsets)), buf.Len)
	out := make([]uint32, 0, len(pairs)*2)
	for _, p := range pairs {
		out = append(out, uint32(p[0]), uint32(p[1]))
	}
	return out
}
