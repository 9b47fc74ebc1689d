package server

import (
	"encoding/json"
	"net/http"

	"github.com/cyclopcam/www"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// httpWSCamera streams a camera's per-frame analysis updates to a viewer.
// Reads and writes run on separate goroutines so a slow client never blocks
// the analysis loop; the watcher channel drops updates when the client
// falls behind.
func (s *Server) httpWSCamera(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cam := s.live.Camera(www.ParseID(params.ByName("cameraID")))
	if cam == nil {
		http.NotFound(w, r)
		return
	}
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Infof("WebSocket upgrade failed for camera %v: %v", cam.Config.ID, err)
		return
	}

	watcher := s.live.AddWatcher(cam.Config.ID)
	defer s.live.RemoveWatcher(cam.Config.ID, watcher)
	defer conn.Close()

	clientClosed := make(chan bool)
	go func() {
		// We expect no messages from the client; reading just detects close
		defer close(clientClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.Log.Infof("WebSocket viewer connected to camera %v", cam.Config.ID)
	for {
		select {
		case update := <-watcher:
			raw, err := json.Marshal(update)
			if err != nil {
				s.Log.Errorf("Failed to marshal camera update: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				s.Log.Infof("WebSocket viewer on camera %v disconnected: %v", cam.Config.ID, err)
				return
			}
		case <-clientClosed:
			s.Log.Infof("WebSocket viewer closed camera %v", cam.Config.ID)
			return
		}
	}
}
