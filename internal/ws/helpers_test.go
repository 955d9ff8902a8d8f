package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"realtime-service/internal/config"
)

func testClient(id string, userID int) *Client {
	c := newClient(id, nil, config.Default().WS, ConnInfo{})
	c.bind(userID)
	c.setState(StateAuthenticated)
	return c
}

// outbox drains every frame queued for c.
func outbox(t *testing.T, c *Client) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case raw := <-c.send:
			var f Frame
			require.NoError(t, json.Unmarshal(raw, &f))
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func events(frames []Frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Event)
	}
	return out
}
