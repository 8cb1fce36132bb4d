package hexconv

// halfbyte stores value+1 of every valid hex digit, so zero marks an invalid one.
var halfbyte = [256]byte{
	'0': 0x1, '1': 0x2, '2': 0x3, '3': 0x4, '4': 0x5,
	'5': 0x6, '6': 0x7, '7': 0x8, '8': 0x9, '9': 0xa,
	'a': 0xb, 'b': 0xc, 'c': 0xd, 'd': 0xe, 'e': 0xf, 'f': 0x10,
	'A': 0xb, 'B': 0xc, 'C': 0xd, 'D': 0xe, 'E': 0xf, 'F': 0x10,
}

// Parse returns the value of a single hex digit and whether the char is a valid one.
func Parse(char byte) (value byte, ok bool) {
	v := halfbyte[char]
	return v - 1, v != 0
}

// Pair decodes two hex digits into a single byte.
func Pair(hi, lo byte) (value byte, ok bool) {
	h, okh := Parse(hi)
	l, okl := Parse(lo)

	return h<<4 | l, okh && okl
}
