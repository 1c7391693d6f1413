package codec

import (
	"testing"

	"github.com/xfscore/xfs/internal/types"
)

func TestCRCRoundTrip(t *testing.T) {
	tests := []struct {
		name        string
		size        int
		cksumOffset int
	}{
		{"small block, offset 0", 64, 0},
		{"block, offset mid", 128, 40},
		{"block, offset near end", 64, 56},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, tc.size)
			for i := range buf {
				buf[i] = byte(i * 7)
			}
			// zero the checksum field before seeding, as a writer would.
			for i := 0; i < 4; i++ {
				buf[tc.cksumOffset+i] = 0
			}

			UpdateCRC(buf, tc.cksumOffset)

			if !VerifyCRC(buf, tc.cksumOffset) {
				t.Fatalf("VerifyCRC() = false after UpdateCRC()")
			}

			// Corrupt one byte outside the checksum field; verification
			// must now fail.
			corruptAt := (tc.cksumOffset + 20) % tc.size
			buf[corruptAt] ^= 0xFF
			if VerifyCRC(buf, tc.cksumOffset) {
				t.Fatalf("VerifyCRC() = true after corrupting byte %d", corruptAt)
			}
		})
	}
}

func TestTimespecRoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	want := types.Timespec{Sec: 1700000000, Nsec: 123456789}

	PutTimespec(buf, want)
	got := Timespec(buf)

	if got.Sec != want.Sec || got.Nsec != want.Nsec {
		t.Fatalf("Timespec round-trip = %+v, want %+v", got, want)
	}
}
