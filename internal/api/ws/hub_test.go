package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/pkg/dto"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, hub *Hub, url string, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("client not registered, have %d", hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) dto.WSEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev dto.WSEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return ev
}

func TestHub_BroadcastsIdentityEvents(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	err := hub.PublishIdentityEvent(context.Background(), identity.Event{
		Type:       identity.EventCheckedIn,
		FaceID:     "abc",
		Similarity: 0.91,
		Timestamp:  time.Now(),
	})
	if err != nil {
		t.Fatalf("PublishIdentityEvent: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Type != "checked_in" || ev.FaceID != "abc" || ev.Similarity != 0.91 {
		t.Errorf("event = %+v", ev)
	}
}

func TestHub_TypeFilter(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url+"?types=deleted,deleted_all", 1)

	_ = hub.PublishIdentityEvent(context.Background(), identity.Event{Type: identity.EventEnrolled, FaceID: "skip"})
	_ = hub.PublishIdentityEvent(context.Background(), identity.Event{Type: identity.EventDeleted, FaceID: "keep"})

	ev := readEvent(t, conn)
	if ev.Type != "deleted" || ev.FaceID != "keep" {
		t.Errorf("filtered client received %+v", ev)
	}
}

func TestParseTypes(t *testing.T) {
	if parseTypes("") != nil {
		t.Error("empty filter should be nil")
	}
	got := parseTypes(" enrolled, ,updated ")
	if len(got) != 2 || !got["enrolled"] || !got["updated"] {
		t.Errorf("parseTypes = %v", got)
	}
}
