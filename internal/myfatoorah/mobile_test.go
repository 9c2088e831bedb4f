package myfatoorah

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeMobile(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"local number untouched", "36001234", "36001234"},
		{"international format stripped", "+973 3600 1234", "36001234"},
		{"country code without plus", "97336001234", "36001234"},
		{"spaces and dashes removed", "3600-12 34", "36001234"},
		{"too short rejected", "123", ""},
		{"empty rejected", "", ""},
		{"letters only rejected", "call me", ""},
		{"oversized keeps last eleven digits", "123456789012345", "56789012345"},
		{"bare country code is a valid local number", "973973", "973973"},
		{"six digits accepted", "360012", "360012"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, NormalizeMobile(tc.in))
		})
	}
}

func TestNormalizeMobileKeepsLocalNumberStartingWith973(t *testing.T) {
	// An eight-digit local number that happens to start with 973 must
	// not lose its prefix.
	require.Equal(t, "97336001", NormalizeMobile("97336001"))
}
