package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversionRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ConversionRequest
		wantErr bool
	}{
		{
			name:    "url only",
			req:     ConversionRequest{TokenURL: "https://example.com/book.acsm"},
			wantErr: false,
		},
		{
			name:    "content only",
			req:     ConversionRequest{TokenContent: "<fulfillmentToken/>"},
			wantErr: false,
		},
		{
			name:    "neither",
			req:     ConversionRequest{Filename: "book.acsm"},
			wantErr: true,
		},
		{
			name: "both",
			req: ConversionRequest{
				TokenURL:     "https://example.com/book.acsm",
				TokenContent: "<fulfillmentToken/>",
			},
			wantErr: true,
		},
		{
			name:    "whitespace url is empty",
			req:     ConversionRequest{TokenURL: "   "},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConversionResultSucceeded(t *testing.T) {
	success := ConversionResult{Outputs: []OutputFile{{Filename: "book.pdf"}}}
	assert.True(t, success.Succeeded())

	failed := ConversionResult{Failure: &Failure{Category: CategoryUnclassified}}
	assert.False(t, failed.Succeeded())
}
