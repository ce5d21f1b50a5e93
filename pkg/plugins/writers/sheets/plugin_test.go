package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sheetsapi "google.golang.org/api/sheets/v4"
)

func TestPlugin_ConfigValidation(t *testing.T) {
	p := &Plugin{}
	assert.Equal(t, "sheets", p.Name())
	assert.Equal(t, []string{sheetsapi.SpreadsheetsScope}, p.RequiredScopes())

	tests := []struct {
		name    string
		client  *http.Client
		config  string
		wantErr string
	}{
		{name: "bad json", client: http.DefaultClient, config: `{`, wantErr: "unmarshaling sheets config"},
		{name: "no sheet name", client: http.DefaultClient, config: `{"sheetId":"abc"}`, wantErr: "sheetName is required"},
		{name: "no id or title", client: http.DefaultClient, config: `{"sheetName":"Sheet1"}`, wantErr: "either sheetId or sheetTitle"},
		{name: "no client", config: `{"sheetName":"Sheet1","sheetId":"abc"}`, wantErr: "authorized http client"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.NewWriter(context.Background(), tt.client, json.RawMessage(tt.config), nil)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
