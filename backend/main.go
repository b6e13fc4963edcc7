// Stub push gateway for manual end-to-end runs of the console core. It
// serves the REST contract the client expects plus a websocket endpoint that
// honors subscribe/unsubscribe frames and emits synthetic order events.
package main

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const tokenSecret = "stub-gateway-secret"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type frame struct {
	Event   string `json:"event"`
	Unit    string `json:"unit,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

type command struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

type order struct {
	ID          string     `json:"id"`
	Unit        string     `json:"unit"`
	Status      string     `json:"status"`
	Urgency     string     `json:"urgency"`
	Assignee    string     `json:"assignee,omitempty"`
	SLADeadline *time.Time `json:"slaDeadline,omitempty"`
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	topics  map[string]bool
}

func (c *client) send(f frame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	c.conn.WriteJSON(f)
}

type hub struct {
	mu      sync.Mutex
	clients map[*client]bool
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// broadcast delivers the frame to every client subscribed to the topic.
func (h *hub) broadcast(topic string, f frame) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.topics[topic] {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()
	for _, c := range targets {
		c.send(f)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func issueToken(userID string) string {
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(24 * time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tokenSecret))
	if err != nil {
		log.Fatalf("Failed to sign stub token: %v", err)
	}
	return token
}

func deadline(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

func syntheticOrders(unit string) []order {
	if unit == "" {
		unit = "unit-100"
	}
	return []order{
		{ID: "ord-1001", Unit: unit, Status: "preparing", Urgency: "normal", SLADeadline: deadline(22 * time.Minute)},
		{ID: "ord-1002", Unit: unit, Status: "ready", Urgency: "warning", SLADeadline: deadline(9 * time.Minute)},
		{ID: "ord-1003", Unit: unit, Status: "dispatched", Urgency: "normal", Assignee: "rider-7"},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func main() {
	addr := getEnv("STUB_ADDR", ":8080")
	h := &hub{clients: make(map[*client]bool)}

	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Post("/api/auth/login", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Username string `json:"username"`
		}
		json.NewDecoder(req.Body).Decode(&body)
		if body.Username == "" {
			body.Username = "op-demo"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token": issueToken(body.Username),
			"user": map[string]any{
				"id":            body.Username,
				"displayName":   "Demo Operator",
				"role":          "store",
				"assignedUnits": []string{"unit-100", "unit-200"},
				"primaryUnit":   "unit-100",
			},
		})
	})

	r.Post("/api/auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/api/orders", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, syntheticOrders(req.URL.Query().Get("unit")))
	})

	for _, action := range []struct {
		path   string
		status string
	}{
		{"/api/orders/{id}/cancel", "cancelled"},
		{"/api/orders/{id}/urgent", "preparing"},
		{"/api/orders/{id}/assign", "dispatched"},
	} {
		action := action
		r.Post(action.path, func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, order{
				ID:     chi.URLParam(req, "id"),
				Unit:   "unit-100",
				Status: action.status,
			})
		})
	}

	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("token") == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Printf("Upgrade failed: %v", err)
			return
		}
		c := &client{conn: conn, topics: make(map[string]bool)}
		h.add(c)
		defer func() {
			h.remove(c)
			conn.Close()
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cmd command
			if json.Unmarshal(data, &cmd) != nil {
				continue
			}
			h.mu.Lock()
			switch cmd.Action {
			case "subscribe":
				c.topics[cmd.Topic] = true
			case "unsubscribe":
				delete(c.topics, cmd.Topic)
			}
			h.mu.Unlock()
		}
	})

	// Emit a synthetic order update every few seconds so connected consoles
	// have something to render.
	go func() {
		statuses := []string{"preparing", "ready", "dispatched"}
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			o := syntheticOrders("unit-100")[rand.Intn(3)]
			o.Status = statuses[rand.Intn(len(statuses))]
			h.broadcast("role:store", frame{Event: "order:updated", Unit: o.Unit, Payload: o})
		}
	}()

	log.Printf("Stub gateway listening on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("Stub gateway failed: %v", err)
	}
}
