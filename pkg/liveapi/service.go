// Live API exposes the most recent reading over HTTP and pushes every
// new reading to connected websocket clients.
package liveapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/pescampus/campus_energy_meter/pkg/meterdb"
	"github.com/pescampus/campus_energy_meter/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type Server struct {
	latest func() (types.Reading, bool)

	wsClients      map[*websocket.Conn]bool
	wsClientsMutex sync.RWMutex
}

// NewServer wires the API to a source of the latest complete reading,
// typically (*poller.Poller).Latest.
func NewServer(latest func() (types.Reading, bool)) *Server {
	return &Server{
		latest:    latest,
		wsClients: make(map[*websocket.Conn]bool),
	}
}

func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]string{
			"message": "Campus Energy Meter API",
			"status":  "running",
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	})

	mux.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		reading, ok := s.latest()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "No readings available yet",
			})
			return
		}
		json.NewEncoder(w).Encode(reading)
	})

	mux.HandleFunc("/meters", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		meters, err := meterdb.GetMeterHierarchy()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(meters)
	})

	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		meterID, err := strconv.Atoi(r.URL.Query().Get("meter_id"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "meter_id query parameter required"})
			return
		}
		limit := 60
		if l := r.URL.Query().Get("limit"); l != "" {
			if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
				limit = parsed
			}
		}
		readings, err := meterdb.GetRecentReadings(meterID, limit)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(readings)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade error: %v", err)
			return
		}

		s.addClient(conn)

		// Send current reading immediately if available
		if reading, ok := s.latest(); ok {
			if data, err := json.Marshal(reading); err == nil {
				conn.WriteMessage(websocket.TextMessage, data)
			}
		}

		// Keep connection alive
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				s.removeClient(conn)
				break
			}
		}
	})
}

// Broadcast pushes a reading to every connected websocket client.
func (s *Server) Broadcast(reading types.Reading) {
	s.wsClientsMutex.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for client := range s.wsClients {
		clients = append(clients, client)
	}
	s.wsClientsMutex.RUnlock()

	data, err := json.Marshal(reading)
	if err != nil {
		log.Printf("Error marshaling reading: %v", err)
		return
	}

	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			s.removeClient(client)
		}
	}
}

func (s *Server) addClient(conn *websocket.Conn) {
	s.wsClientsMutex.Lock()
	s.wsClients[conn] = true
	s.wsClientsMutex.Unlock()
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.wsClientsMutex.Lock()
	delete(s.wsClients, conn)
	s.wsClientsMutex.Unlock()
	conn.Close()
}
