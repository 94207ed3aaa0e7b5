package transport

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("sendClose", func() {
	It("logs a failed close frame at debug level", func() {
		upgrader := websocket.Upgrader{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ws, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer ws.Close()
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}))
		DeferCleanup(srv.Close)

		url := "ws" + strings.TrimPrefix(srv.URL, "http")
		ws, _, err := websocket.DefaultDialer.Dial(url, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(ws.Close()).To(Succeed())

		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		c, err := NewConn(url, func([]byte) {}, nil, logger)
		Expect(err).NotTo(HaveOccurred())

		c.sendClose(ws)
		Expect(buf.String()).To(ContainSubstring("failed to send close frame"))
		Expect(buf.String()).To(ContainSubstring("level=DEBUG"))
	})
})
