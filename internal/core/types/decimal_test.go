package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuantityUnmarshalJSON_ParsesDecimalStrings(t *testing.T) {
	tests := []struct {
		in   string
		want Quantity
	}{
		{`"12.345"`, 12345},
		{`"-0.5"`, -500},
		{`"+2"`, 2000},
		{`7.25`, 7250},
		{`".75"`, 750},
		{`"1.23456"`, 1234}, // extra fractional digits truncate
	}

	for _, tt := range tests {
		var q Quantity
		require.NoError(t, json.Unmarshal([]byte(tt.in), &q), tt.in)
		require.Equal(t, tt.want, q, tt.in)
	}
}

func TestQuantityUnmarshalJSON_RejectsExponentForm(t *testing.T) {
	for _, in := range []string{`"1e3"`, `"2.5E-1"`, `"1E+2"`, `1e3`} {
		var q Quantity
		require.Error(t, json.Unmarshal([]byte(in), &q), in)
	}
}

func TestQuantityUnmarshalJSON_RejectsGarbage(t *testing.T) {
	for _, in := range []string{`"abc"`, `"1.2.3"`, `"--1"`} {
		var q Quantity
		require.Error(t, json.Unmarshal([]byte(in), &q), in)
	}
}

func TestQuantityIsWhole(t *testing.T) {
	require.True(t, NewQuantityFromFloat64(3).IsWhole())
	require.False(t, NewQuantityFromFloat64(3.5).IsWhole())
}
