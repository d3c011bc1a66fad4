package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/towfleet/tracking/cli/tracker/model"
)

// Event names on the wire, matching what dashboard clients subscribe to.
const (
	EventLocationUpdate  = "location_update"
	EventTrackingUpdates = "tracking_updates"
	EventGeofenceAlert   = "geofenceAlert"
	EventSpeedAlert      = "speedAlert"
	EventRoomJoined      = "room_joined"
	EventHello           = "notification_channel"

	// roomsTopic is the pub/sub channel that mirrors room traffic between
	// instances.
	roomsTopic = "tracking:rooms"

	clientSendBuffer = 32
)

func DispatchRoom(dispatchID string) string { return "dispatch_" + dispatchID }
func VehicleRoom(vehicleID string) string   { return "vehicle_" + vehicleID }
func AlertRoom(dispatchID string) string    { return "alerts-" + dispatchID }

// AuthFunc maps an upgrade request to a caller identity. The handshake
// itself belongs to the auth layer; the hub only needs the resulting
// identity. A nil AuthFunc admits everyone (single-instance dev mode).
type AuthFunc func(r *http.Request) (string, error)

type wsMessage struct {
	Action     string `json:"action"`
	DispatchID string `json:"dispatchId"`
	VehicleID  string `json:"vehicleId"`
}

type outEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// envelope is the cross-instance form of an event. Instance lets the
// originating hub skip its own echo.
type envelope struct {
	Instance string          `json:"instance"`
	Room     string          `json:"room,omitempty"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	caller string
	rooms  map[string]struct{}

	// mu orders enqueue against shutdown: send is only closed while no
	// enqueue is in flight.
	mu     sync.Mutex
	closed bool
}

// Hub fans events out to dispatch-scoped, vehicle-scoped and global
// audiences, and mirrors them across instances through the PubSub bridge.
type Hub struct {
	instanceID string
	auth       AuthFunc
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	rooms   map[string]map[*client]struct{}

	pubsub PubSub
}

// NewHub wires the hub to a cross-instance bridge. When the bridge cannot be
// subscribed the hub degrades to single-instance delivery with a warning, not
// an error.
func NewHub(ps PubSub, auth AuthFunc) *Hub {
	h := &Hub{
		instanceID: uuid.NewString(),
		auth:       auth,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
		rooms:   make(map[string]map[*client]struct{}),
	}

	if ps != nil {
		if err := ps.Subscribe(context.Background(), roomsTopic, h.handleRemote); err != nil {
			log.Warnf("Room bridge unavailable, running single-instance: %v", err)
		} else {
			h.pubsub = ps
		}
	}
	return h
}

// HandleWS upgrades an HTTP request into a tracked websocket client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	caller := ""
	if h.auth != nil {
		id, err := h.auth(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		caller = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("Websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		caller: caller,
		rooms:  make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	c.enqueue(marshalEvent(EventHello, map[string]string{"status": "connected"}))

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case "join_dispatch":
			h.join(c, DispatchRoom(msg.DispatchID))
			h.join(c, AlertRoom(msg.DispatchID))
			if msg.VehicleID != "" {
				h.join(c, VehicleRoom(msg.VehicleID))
			}
			c.enqueue(marshalEvent(EventRoomJoined, map[string]string{
				"room":   DispatchRoom(msg.DispatchID),
				"status": "joined",
			}))
		case "leave_dispatch":
			h.leave(c, DispatchRoom(msg.DispatchID))
			h.leave(c, AlertRoom(msg.DispatchID))
			if msg.VehicleID != "" {
				h.leave(c, VehicleRoom(msg.VehicleID))
			}
		}
	}
}

func (h *Hub) writePump(c *client) {
	for raw := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			h.drop(c)
			c.conn.Close()
			return
		}
	}
	c.conn.Close()
}

func (c *client) enqueue(raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- raw:
	default:
		// Slow consumer; drop the frame rather than block the fanout.
	}
}

func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (h *Hub) join(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
	log.Debugf("Client %s joined room %s", c.caller, room)
}

func (h *Hub) leave(c *client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.mu.Unlock()
	c.shutdown()
}

// BroadcastLocation delivers an enriched report to its dispatch room, its
// vehicle room and the global tracking channel, locally and cross-instance.
func (h *Hub) BroadcastLocation(ctx context.Context, e *model.EnrichedReport) {
	if e.DispatchID != "" {
		h.emit(ctx, DispatchRoom(e.DispatchID), EventLocationUpdate, e)
	}
	h.emit(ctx, VehicleRoom(e.VehicleID), EventLocationUpdate, e)
	h.emit(ctx, "", EventTrackingUpdates, e)
}

// EmitAlert sends a violation event to the dispatch's alert room.
func (h *Hub) EmitAlert(ctx context.Context, dispatchID, event string, payload interface{}) {
	h.emit(ctx, AlertRoom(dispatchID), event, payload)
}

// emit delivers to the local audience and mirrors the event to other
// instances. An empty room means every connected client.
func (h *Hub) emit(ctx context.Context, room, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Debugf("Failed to encode %s event: %v", event, err)
		return
	}
	h.deliverLocal(room, marshalRawEvent(event, data))

	if h.pubsub == nil {
		return
	}
	env, err := json.Marshal(envelope{
		Instance: h.instanceID,
		Room:     room,
		Event:    event,
		Data:     data,
	})
	if err != nil {
		return
	}
	if err := h.pubsub.Publish(ctx, roomsTopic, env); err != nil {
		log.Debugf("Cross-instance room publish failed: %v", err)
	}
}

func (h *Hub) handleRemote(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return
	}
	if env.Instance == h.instanceID {
		return
	}
	h.deliverLocal(env.Room, marshalRawEvent(env.Event, env.Data))
}

func (h *Hub) deliverLocal(room string, raw []byte) {
	h.mu.Lock()
	var targets []*client
	if room == "" {
		for c := range h.clients {
			targets = append(targets, c)
		}
	} else {
		for c := range h.rooms[room] {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.enqueue(raw)
	}
}

// RoomSize reports the local membership of a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// Close disconnects every client and the bridge.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.drop(c)
	}
	if h.pubsub != nil {
		h.pubsub.Close()
	}
}

func marshalEvent(event string, payload interface{}) []byte {
	raw, _ := json.Marshal(outEvent{Event: event, Data: payload})
	return raw
}

func marshalRawEvent(event string, data json.RawMessage) []byte {
	raw, _ := json.Marshal(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{Event: event, Data: data})
	return raw
}
