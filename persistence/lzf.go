package persistence

import (
	"errors"
	"fmt"
)

var errLZFCorrupt = errors.New("lzf: corrupt input")

// lzfDecompress expands LZF compressed data, as used for RDB strings
func lzfDecompress(compressed []byte, uncompressedLen int) ([]byte, error) {
	out := make([]byte, uncompressedLen)
	op, ip := 0, 0

	for ip < len(compressed) {
		ctrl := int(compressed[ip])
		ip++

		if ctrl < 32 {
			n := ctrl + 1
			if ip+n > len(compressed) || op+n > uncompressedLen {
				return nil, errLZFCorrupt
			}
			copy(out[op:], compressed[ip:ip+n])
			op += n
			ip += n
			continue
		}

		n := ctrl >> 5
		if n == 7 {
			if ip >= len(compressed) {
				return nil, errLZFCorrupt
			}
			n += int(compressed[ip])
			ip++
		}
		n += 2

		if ip >= len(compressed) {
			return nil, errLZFCorrupt
		}
		ref := op - (ctrl&0x1f)<<8 - int(compressed[ip]) - 1
		ip++
		if ref < 0 || op+n > uncompressedLen {
			return nil, errLZFCorrupt
		}
		// Back references may overlap the bytes being written
		for i := 0; i < n; i++ {
			out[op] = out[ref]
			op++
			ref++
		}
	}

	if op != uncompressedLen {
		return nil, fmt.Errorf("lzf: decompressed %d bytes, expected %d", op, uncompressedLen)
	}
	return out, nil
}
