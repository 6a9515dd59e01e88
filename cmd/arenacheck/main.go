package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"nhooyr.io/websocket"

	"github.com/park285/cheese-arena/internal/admin"
	"github.com/park285/cheese-arena/internal/arena"
)

func main() {
	adminURL := os.Getenv("ARENA_ADMIN_URL")
	wsURL := os.Getenv("ARENA_WS_URL")
	if adminURL == "" {
		adminURL = "http://127.0.0.1:8081"
	}

	client := admin.NewClient(adminURL, admin.WithTimeout(3*time.Second), admin.WithRetries(3))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h, err := client.Health(ctx)
	if err != nil {
		log.Fatalf("/healthz error: %v", err)
	}
	log.Printf("/healthz ok: status=%s uptime=%s", h.Status, h.Uptime)

	var st arena.Stats
	if err := client.Stats(ctx, &st); err != nil {
		log.Printf("/stats error: %v", err)
	} else {
		log.Printf("/stats ok: active=%d started=%d ended=%d waiting=%v", st.ActiveSessions, st.SessionsStarted, st.SessionsEnded, st.Waiting)
	}

	if wsURL == "" {
		log.Println("ARENA_WS_URL not set; skipping WS check")
		return
	}

	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		log.Fatalf("WS dial error: %v", err)
	}
	defer c.CloseNow()

	// 큐 진입 후 바로 종료: 서버는 연결 종료 시 대기열에서 제거해야 함
	if tc := os.Getenv("ARENA_PROBE_TIME_LIMIT"); tc != "" {
		if _, err := strconv.Atoi(tc); err != nil {
			log.Fatalf("ARENA_PROBE_TIME_LIMIT: %v", err)
		}
		frame := []byte(`{"type":"join_queue","payload":{"timeLimit":` + tc + `}}`)
		if err := c.Write(ctx, websocket.MessageText, frame); err != nil {
			log.Fatalf("WS write error: %v", err)
		}
		log.Printf("WS join_queue sent: timeLimit=%s", tc)
	}
	_ = c.Close(websocket.StatusNormalClosure, "probe done")
	log.Println("WS ok")
}
