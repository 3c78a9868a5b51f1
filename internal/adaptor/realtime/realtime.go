// Package realtime proxies websocket upgrade requests byte-for-byte between
// the inbound client and a realtime-capable upstream. Frames are not
// inspected; billing happens once at stream end from the accumulated frame
// sizes.
package realtime

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/burncloud/burncloud-router/internal/meta"
	"github.com/burncloud/burncloud-router/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 << 10,
	WriteBufferSize: 32 << 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Result summarises one finished realtime session for billing.
type Result struct {
	ClientBytes   int64 // bytes sent by the client
	UpstreamBytes int64 // bytes sent by the upstream
}

// Proxy upgrades the inbound request and bridges it to the upstream's
// websocket endpoint, blocking until either side closes.
func Proxy(w http.ResponseWriter, r *http.Request, m *meta.Meta, up *store.Upstream, lg *zap.Logger) (*Result, error) {
	target := wsURL(up.BaseURL) + r.URL.RequestURI()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+up.APIKey)
	for _, h := range []string{"OpenAI-Beta", "Sec-WebSocket-Protocol"} {
		if v := r.Header.Get(h); v != "" {
			header.Set(h, v)
		}
	}

	upstream, resp, err := websocket.DefaultDialer.Dial(target, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial upstream (status %d)", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "dial upstream")
	}
	defer upstream.Close()

	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.Wrap(err, "upgrade client")
	}
	defer client.Close()

	res := &Result{}
	var wg sync.WaitGroup
	wg.Add(2)
	go pump(client, upstream, &res.ClientBytes, &wg, lg)
	go pump(upstream, client, &res.UpstreamBytes, &wg, lg)
	wg.Wait()
	return res, nil
}

// pump copies frames from src to dst until either side closes.
func pump(src, dst *websocket.Conn, counter *int64, wg *sync.WaitGroup, lg *zap.Logger) {
	defer wg.Done()
	for {
		msgType, payload, err := src.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				lg.Debug("realtime stream ended", zap.Error(err))
			}
			dst.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
		*counter += int64(len(payload))
		if err := dst.WriteMessage(msgType, payload); err != nil {
			return
		}
	}
}

func wsURL(base string) string {
	base = strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
