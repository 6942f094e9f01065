package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"+1 (555) 123-4567": "5551234567",
		"5551234567":        "5551234567",
		"1-555-123-4567":    "5551234567",
		"15551234567":       "5551234567",
		"  555.123.4567 ":   "5551234567",
		"+44 20 7946 0958":  "442079460958",
		"21234567890":       "21234567890",
		"1":                 "1",
		"":                  "",
		"abc":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"+1 (555) 123-4567", "115551234567", "1 1 5 5 5", "0015551234567", "1", "11", "", "x1y",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestNormalizePtr(t *testing.T) {
	assert.Nil(t, NormalizePtr(nil))
	empty := " - "
	assert.Nil(t, NormalizePtr(&empty))

	raw := "+1 555 222 2222"
	got := NormalizePtr(&raw)
	if assert.NotNil(t, got) {
		assert.Equal(t, "5552222222", *got)
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("(555) 111-1111", "+15551111111"))
	assert.False(t, Equal("", ""))
	assert.False(t, Equal("5551111111", "5552222222"))
}
