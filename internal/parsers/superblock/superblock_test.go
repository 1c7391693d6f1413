package superblock

import (
	"testing"

	"github.com/xfscore/xfs/internal/types"
)

func makeValidSB(v5 bool) *types.Superblock {
	sb := &types.Superblock{
		Magic:      types.SbMagic,
		BlockSize:  4096,
		DBlocks:    1000,
		AGBlocks:   250,
		AGCount:    4,
		LogStart:   10,
		RootIno:    128,
		InodeSize:  512,
		BlockLog:   12,
		InodeLog:   9,
		AGBlklog:   8,
		InopBlog:   3,
		DirBlklog:  0,
		VersionNum: types.SbVersion4,
	}
	if v5 {
		sb.VersionNum = types.SbVersion5
	}
	return sb
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, v5 := range []bool{false, true} {
		sb := makeValidSB(v5)
		buf := Encode(sb)

		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode() error = %v (v5=%v)", err, v5)
		}
		if got.Magic != sb.Magic || got.BlockSize != sb.BlockSize || got.AGCount != sb.AGCount {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, sb)
		}
		if got.IsV5() != v5 {
			t.Fatalf("IsV5() = %v, want %v", got.IsV5(), v5)
		}
	}
}

func TestValidateRejectsBadMagic(t *testing.T) {
	sb := makeValidSB(false)
	sb.Magic = 0
	if err := Validate(sb, nil); err == nil {
		t.Fatal("Validate() succeeded with bad magic")
	}
}

func TestValidateRejectsInProgress(t *testing.T) {
	sb := makeValidSB(false)
	sb.InProgress = types.SbInProgress
	if err := Validate(sb, nil); err == nil {
		t.Fatal("Validate() succeeded with in-progress flag set")
	}
}

func TestValidateRejectsExternalLog(t *testing.T) {
	sb := makeValidSB(false)
	sb.LogStart = 0
	if err := Validate(sb, nil); err == nil {
		t.Fatal("Validate() succeeded with external log (LogStart == 0)")
	}
}

func TestValidateRejectsRealtimeSection(t *testing.T) {
	sb := makeValidSB(false)
	sb.RExtents = 5
	if err := Validate(sb, nil); err == nil {
		t.Fatal("Validate() succeeded with non-zero real-time extents")
	}
}

func TestValidateRejectsCorruptV5CRC(t *testing.T) {
	sb := makeValidSB(true)
	buf := Encode(sb)
	buf[300] ^= 0xFF // corrupt a byte inside the checksummed region

	if _, err := Decode(buf); err == nil {
		t.Fatal("Decode() succeeded despite corrupted V5 CRC")
	}
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	if _, err := Decode(make([]byte, 10)); err == nil {
		t.Fatal("Decode() succeeded with undersized buffer")
	}
}
