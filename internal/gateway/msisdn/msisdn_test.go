package msisdn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeE164(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already international", "93791234567", "+93791234567"},
		{"with plus", "+93791234567", "+93791234567"},
		{"double zero prefix", "0093791234567", "+93791234567"},
		{"national with leading zero", "0791234567", "+93791234567"},
		{"bare local number", "791234567", "+93791234567"},
		{"spaces and dashes", "079-123 4567", "+93791234567"},
		{"parenthesized", "(079) 1234567", "+93791234567"},
		{"foreign international kept", "00447911123456", "+447911123456"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeE164(tt.input, "93")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeE164Invalid(t *testing.T) {
	for _, input := range []string{"", "+", "abc", "--"} {
		_, err := NormalizeE164(input, "93")
		assert.ErrorIs(t, err, ErrInvalid, "input %q", input)
	}
}
