package borsh

import (
	"encoding/hex"
	"testing"
)

func TestEncoder(t *testing.T) {
	s := "ab"
	got := NewEncoder([]byte{0xff}).
		U8(1).U16(2).U32(3).U64(4).I32(-1).Bool(true).
		String("hi").OptionString(nil).OptionString(&s).
		Bytes()
	want := "ff" + "01" + "0200" + "03000000" + "0400000000000000" + "ffffffff" + "01" +
		"020000006869" + "00" + "01020000006162"
	if hex.EncodeToString(got) != want {
		t.Errorf("encoded = %x, want %s", got, want)
	}
}
