package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatInvoiceNumber(t *testing.T) {
	issued := time.Date(2024, time.September, 5, 0, 0, 0, 0, time.UTC)

	got, err := FormatInvoiceNumber(DefaultInvoiceNumberTemplate, issued, 42)
	require.NoError(t, err)
	assert.Equal(t, "INV-202409-000042", got)

	got, err = FormatInvoiceNumber("{YY}{DD}/{SEQ}", issued, 7)
	require.NoError(t, err)
	assert.Equal(t, "2405/7", got)

	_, err = FormatInvoiceNumber("INV-{SEQ6}", issued, 0)
	assert.Error(t, err)

	_, err = FormatInvoiceNumber("INV-{FOO}", issued, 1)
	assert.Error(t, err)
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		amount   int64
		currency string
		want     string
	}{
		{50000, "MXN", "500.00 MXN"},
		{123456789, "usd", "1,234,567.89 USD"},
		{5, "MXN", "0.05 MXN"},
		{-2500, "MXN", "-25.00 MXN"},
		{1500, "JPY", "1,500 JPY"},
		{100000, "", "1,000.00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatMoney(tt.amount, tt.currency))
	}
}
