package validate

import (
	"testing"

	apperrors "curve_core/pkg/errors"

	"github.com/stretchr/testify/assert"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"chain", "ethereum", false},
		{"address", "0xf939E0A03FB07F59A73314E73794Be0E57ac1b4E", false},
		{"symbol", "crvUSD", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"path traversal", "../admin", true},
		{"dot segment", "..", true},
		{"slash", "eth/other", true},
		{"query", "eth?x=1", true},
		{"command injection", "ls; rm -rf /", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Identifier("chain", tt.value)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrInvalidRequest)
				return
			}
			assert.NoError(t, err)
		})
	}
}
