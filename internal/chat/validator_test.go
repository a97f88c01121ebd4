package chat

import (
	"strings"
	"testing"
)

func TestValidateBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid short message", "hello", false},
		{"empty message", "", true},
		{"exactly max chars", strings.Repeat("a", MaxBodyChars), false},
		{"over max chars", strings.Repeat("a", MaxBodyChars+1), true},
		{"over max bytes", strings.Repeat("é", MaxBodyBytes/2+1), true},
		{"unicode within limits", strings.Repeat("你", 100), false},
		{"invalid utf8", string([]byte{0xff, 0xfe, 0xfd}), true},
		{"whitespace only", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBody(tt.body)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBody() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
