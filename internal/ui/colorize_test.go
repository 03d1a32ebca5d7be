package ui

import (
	"strings"
	"testing"
)

func TestColorFuncsWrapAndReset(t *testing.T) {
	cases := []struct {
		name string
		fn   func(string) string
	}{
		{"Pass", Pass},
		{"Fail", Fail},
		{"Skip", Skip},
		{"Tag", Tag},
		{"Header", Header},
	}
	for _, c := range cases {
		got := c.fn("x")
		if !strings.Contains(got, "x") || !strings.HasSuffix(got, ansiReset) {
			t.Errorf("%s(\"x\") = %q, want it to contain \"x\" and end with reset", c.name, got)
		}
	}
}

func TestAddressFormatsSixteenHexDigits(t *testing.T) {
	got := Address(0x1000)
	if !strings.Contains(got, "0x0000000000001000") {
		t.Errorf("Address(0x1000) = %q, want it to contain 0x0000000000001000", got)
	}
}
