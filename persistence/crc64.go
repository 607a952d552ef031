package persistence

// Redis checksums RDB payloads with CRC-64/Jones, reflected, zero initial
// value and no final xor. hash/crc64 always inverts, so the table walk is
// done here.
var jonesTable = func() [256]uint64 {
	const poly = 0x95ac9329ac4bc9b5
	var t [256]uint64
	for i := range t {
		crc := uint64(i)
		for j := 0; j < 8; j++ {
			if crc&1 == 1 {
				crc = crc>>1 ^ poly
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return t
}()

func crc64Update(crc uint64, p []byte) uint64 {
	for _, b := range p {
		crc = jonesTable[byte(crc)^b] ^ crc>>8
	}
	return crc
}
