package can

// DLC is the 4-bit data length code of a CAN-FD frame.
type DLC uint8

var dlcLengths = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// Len converts the code to a payload length in bytes.
func (d DLC) Len() int { return int(dlcLengths[d&0xF]) }

// LengthToDLC returns the smallest code whose length holds n bytes.
// Lengths above 64 saturate at DLC 15.
func LengthToDLC(n int) DLC {
	if n <= 8 {
		if n < 0 {
			return 0
		}
		return DLC(n)
	}
	for d := DLC(9); d < 15; d++ {
		if int(dlcLengths[d]) >= n {
			return d
		}
	}
	return 15
}
