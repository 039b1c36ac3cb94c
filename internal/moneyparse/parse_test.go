package moneyparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLocaleNumericForms(t *testing.T) {
	cases := []struct {
		raw   string
		cents int64
		ok    bool
	}{
		{"162,51 €", 16251, true},
		{"0,86 €", 86, true},
		{"1,39 €", 139, true},
		{"0,93 €", 93, true},
		{"1.234,56 €", 123456, true},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		cents, ok := Parse(c.raw)
		assert.Equalf(t, c.ok, ok, "raw=%q", c.raw)
		if c.ok {
			assert.Equalf(t, c.cents, cents, "raw=%q", c.raw)
		}
	}
}

func TestParseMoneyWrapsSchemaMoney(t *testing.T) {
	m, ok := ParseMoney("162,51 €")
	assert.True(t, ok)
	assert.Equal(t, int64(16251), m.Cents())
}
