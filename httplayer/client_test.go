// SPDX-License-Identifier: GPL-3.0-or-later

package httplayer

import (
	"io"
	"net/http"
	"testing"
	"time"

	pump "github.com/netreactor/pump"
	"github.com/netreactor/pump/address"
	"github.com/netreactor/pump/transport"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *transport.Service {
	t.Helper()
	cfg := pump.NewConfig()
	cfg.PollTimeout = time.Millisecond
	svc, err := transport.NewService(cfg, 1, false)
	require.NoError(t, err)
	t.Cleanup(svc.Stop)
	return svc
}

// serveOneCannedResponse listens on loopback and, for every accepted
// connection, replies with a fixed HTTP/1.1 response as soon as any bytes
// arrive — enough to exercise the client's dial/write/parse path without
// needing a full request parser on the server side.
func serveOneCannedResponse(t *testing.T, svc *transport.Service, response string) string {
	t.Helper()

	ep, err := address.Parse("127.0.0.1:0")
	require.NoError(t, err)

	acc, err := transport.ListenTCP(svc, ep, 16, nil)
	require.NoError(t, err)
	t.Cleanup(acc.Stop)

	require.NoError(t, acc.Start(transport.AcceptCallbacks{
		OnAccepted: func(tr *transport.TCPTransport) {
			tr.Start(svc, 1<<20, transport.Callbacks{
				OnRead: func(data []byte) {
					tr.Send([]byte(response))
				},
			})
		},
	}))
	return acc.LocalAddr().String()
}

func TestTransportRoundTripGET(t *testing.T) {
	svc := newTestService(t)
	addr := serveOneCannedResponse(t, svc,
		"HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: close\r\n\r\nhello")

	txp := NewTransport(svc, Config{ConnectTimeout: 2 * time.Second})
	client := &http.Client{Transport: txp, Timeout: 5 * time.Second}

	resp, err := client.Get("http://" + addr + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
}

func TestTransportRejectsInvalidHeaderValue(t *testing.T) {
	svc := newTestService(t)
	txp := NewTransport(svc, Config{})

	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:1/", nil)
	require.NoError(t, err)
	req.Header.Set("X-Bad", "line1\r\nline2")

	_, err = txp.RoundTrip(req)
	require.Error(t, err)
}
