package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) httpArchiveEvents(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cameraID := www.RequiredQueryInt64(r, "camera")
	limit := www.QueryInt(r, "limit")
	start := queryTime(r, "start")
	end := queryTime(r, "end")
	events, err := s.eventDB.GetEvents(cameraID, start, end, limit)
	www.Check(err)
	www.SendJSON(w, events)
}

func (s *Server) httpArchiveAlerts(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cameraID := www.RequiredQueryInt64(r, "camera")
	limit := www.QueryInt(r, "limit")
	unackOnly := www.QueryValue(r, "unackOnly") == "1"
	alerts, err := s.eventDB.GetAlerts(cameraID, unackOnly, limit)
	www.Check(err)
	www.SendJSON(w, alerts)
}

// queryTime reads a unix milliseconds query value. Zero time when absent.
func queryTime(r *http.Request, key string) time.Time {
	ms := www.QueryInt64(r, key)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
