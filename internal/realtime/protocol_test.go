package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Inbound
		wantErr error
	}{
		{"ping", `{"type":"ping"}`, Inbound{Kind: InboundHeartbeat}, nil},
		{"heartbeat", `{"type":"heartbeat","ts":1}`, Inbound{Kind: InboundHeartbeat}, nil},
		{
			"subscribe top-level channels",
			`{"type":"subscribe","channels":["requests:all","chat:all"]}`,
			Inbound{Kind: InboundSubscribe, Channels: []string{"requests:all", "chat:all"}},
			nil,
		},
		{
			"subscribe nested channels",
			`{"type":"subscribe","data":{"channels":["meetings:all"]}}`,
			Inbound{Kind: InboundSubscribe, Channels: []string{"meetings:all"}},
			nil,
		},
		{
			"unsubscribe skips non-string entries",
			`{"type":"unsubscribe","channels":["chat:all",42,null,"chat:all"]}`,
			Inbound{Kind: InboundUnsubscribe, Channels: []string{"chat:all"}},
			nil,
		},
		{"invalid json", `{"type":`, Inbound{}, ErrMalformedMessage},
		{"missing type", `{"channels":[]}`, Inbound{}, ErrMalformedMessage},
		{"non-string type", `{"type":7}`, Inbound{}, ErrMalformedMessage},
		{"channels not an array", `{"type":"subscribe","channels":"chat:all"}`, Inbound{Kind: InboundSubscribe}, ErrMalformedMessage},
		{"unknown type", `{"type":"shout"}`, Inbound{}, ErrUnknownMessageType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInbound([]byte(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
