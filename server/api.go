package server

import (
	"fmt"
	"net/http"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// SetupRouter builds the API routes. Split from ListenHTTP so tests can
// drive the router through httptest.
func (s *Server) SetupRouter() *httprouter.Router {
	router := httprouter.New()

	s.handle(router, "GET", "/api/ping", s.httpPing)

	s.handle(router, "POST", "/api/camera", s.httpCameraAdd)
	s.handle(router, "GET", "/api/camera/list", s.httpCameraList)
	s.handle(router, "DELETE", "/api/camera/:cameraID", s.httpCameraStop)
	s.handle(router, "POST", "/api/camera/:cameraID/frames", s.httpCameraFrames)
	s.handle(router, "GET", "/api/camera/:cameraID/report", s.httpCameraReport)
	s.handle(router, "GET", "/api/camera/:cameraID/heatmap", s.httpCameraHeatmap)
	s.handle(router, "GET", "/api/camera/:cameraID/events", s.httpCameraEvents)
	s.handle(router, "GET", "/api/camera/:cameraID/alerts", s.httpCameraAlerts)
	s.handle(router, "POST", "/api/camera/:cameraID/alerts/:alertID/acknowledge", s.httpCameraAcknowledge)

	s.handle(router, "GET", "/api/archive/events", s.httpArchiveEvents)
	s.handle(router, "GET", "/api/archive/alerts", s.httpArchiveAlerts)

	s.handle(router, "POST", "/api/jobs", s.httpJobSubmit)
	s.handle(router, "GET", "/api/jobs/list", s.httpJobList)
	s.handle(router, "GET", "/api/jobs/:jobID", s.httpJobStatus)

	router.GET("/api/ws/camera/:cameraID", s.httpWSCamera)

	return router
}

func (s *Server) handle(router *httprouter.Router, method, path string, handle httprouter.Handle) {
	www.Handle(s.Log, router, method, path, handle)
}

// ListenHTTP blocks serving the API
func (s *Server) ListenHTTP(port int) error {
	addr := fmt.Sprintf(":%v", port)
	s.Log.Infof("Listening on %v", addr)
	return http.ListenAndServe(addr, s.SetupRouter())
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendOK(w)
}
