package relay

import (
	"testing"
)

func TestGenerateQRCode(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		size    int
		wantErr bool
	}{
		{
			name: "Default Size",
			url:  "https://broker.test/h/wh-1",
		},
		{
			name: "Explicit Size",
			url:  "https://broker.test/h/wh-1",
			size: 512,
		},
		{
			name:    "Size Too Small",
			url:     "https://broker.test/h/wh-1",
			size:    100,
			wantErr: true,
		},
		{
			name:    "Size Too Large",
			url:     "https://broker.test/h/wh-1",
			size:    5000,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateQRCode(tt.url, tt.size)
			if (err != nil) != tt.wantErr {
				t.Errorf("GenerateQRCode() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && len(got) == 0 {
				t.Errorf("GenerateQRCode() returned empty bytes")
			}
		})
	}
}
