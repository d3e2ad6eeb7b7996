package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.rooms == nil {
		t.Error("NewHub() rooms map is nil")
	}
}

func TestHub_Online_EmptyRoom(t *testing.T) {
	hub := NewHub()
	if online := hub.Online("abc123"); online != 0 {
		t.Errorf("Online() for unknown room = %d, want 0", online)
	}
}

func TestHub_GetRoom_Lazy(t *testing.T) {
	hub := NewHub()
	rh1 := hub.GetRoom("abc123")
	rh2 := hub.GetRoom("abc123")
	if rh1 != rh2 {
		t.Error("GetRoom() should return the same RoomHub for the same hash")
	}
}

func TestRoomHub_RegisterUnregister(t *testing.T) {
	rh := NewRoomHub("abc123")
	client := &Client{room: rh, send: make(chan []byte, 256)}

	go rh.run()

	rh.register <- client
	time.Sleep(10 * time.Millisecond)
	if rh.Online() != 1 {
		t.Errorf("Online() after register = %d, want 1", rh.Online())
	}

	rh.unregister <- client
	time.Sleep(10 * time.Millisecond)
	if rh.Online() != 0 {
		t.Errorf("Online() after unregister = %d, want 0", rh.Online())
	}
}

func TestRoomHub_Broadcast(t *testing.T) {
	rh := NewRoomHub("abc123")
	clients := make([]*Client, 3)
	for i := 0; i < 3; i++ {
		clients[i] = &Client{room: rh, send: make(chan []byte, 256)}
	}

	go rh.run()
	for _, c := range clients {
		rh.register <- c
	}
	time.Sleep(20 * time.Millisecond)

	testMsg := []byte(`{"type":"negotiation_update","data":{"event":"approve"}}`)
	rh.broadcast <- testMsg

	var wg sync.WaitGroup
	received := make([]bool, 3)
	for i, c := range clients {
		wg.Add(1)
		go func(idx int, client *Client) {
			defer wg.Done()
			select {
			case msg := <-client.send:
				if string(msg) == string(testMsg) {
					received[idx] = true
				}
			case <-time.After(100 * time.Millisecond):
			}
		}(i, c)
	}
	wg.Wait()

	for i, r := range received {
		if !r {
			t.Errorf("Client %d did not receive broadcast message", i)
		}
	}
}

func TestHub_BroadcastUpdate_WrapsEnvelope(t *testing.T) {
	hub := NewHub()
	rh := hub.GetRoom("abc123")
	client := &Client{room: rh, send: make(chan []byte, 256)}
	rh.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.BroadcastUpdate("abc123", map[string]string{"event": "approve", "status": "pending"})

	select {
	case msg := <-client.send:
		var evt struct {
			Type string `json:"type"`
			Data struct {
				Event  string `json:"event"`
				Status string `json:"status"`
			} `json:"data"`
		}
		if err := json.Unmarshal(msg, &evt); err != nil {
			t.Fatalf("Unmarshal() error = %v", err)
		}
		if evt.Type != "negotiation_update" {
			t.Errorf("envelope type = %q, want negotiation_update", evt.Type)
		}
		if evt.Data.Status != "pending" {
			t.Errorf("envelope status = %q, want pending", evt.Data.Status)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no message received")
	}
}

func TestHub_BroadcastUpdate_UnknownRoomIsNoop(t *testing.T) {
	hub := NewHub()
	// Must not panic or create the room.
	hub.BroadcastUpdate("nope", map[string]string{"event": "approve"})
	if hub.Online("nope") != 0 {
		t.Error("BroadcastUpdate() should not create rooms")
	}
}

func TestRoomHub_MultipleRooms(t *testing.T) {
	hub := NewHub()
	rh1 := hub.GetRoom("room-a")
	rh2 := hub.GetRoom("room-b")

	rh1.register <- &Client{room: rh1, send: make(chan []byte, 256)}
	rh2.register <- &Client{room: rh2, send: make(chan []byte, 256)}
	time.Sleep(20 * time.Millisecond)

	if hub.Online("room-a") != 1 {
		t.Errorf("Online(room-a) = %d, want 1", hub.Online("room-a"))
	}
	if hub.Online("room-b") != 1 {
		t.Errorf("Online(room-b) = %d, want 1", hub.Online("room-b"))
	}
}

func TestRoomHub_Concurrent(t *testing.T) {
	rh := NewRoomHub("abc123")
	go rh.run()

	var wg sync.WaitGroup
	numClients := 10
	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rh.register <- &Client{room: rh, send: make(chan []byte, 256)}
		}()
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond)

	if rh.Online() != numClients {
		t.Errorf("Online() after concurrent register = %d, want %d", rh.Online(), numClients)
	}
}
