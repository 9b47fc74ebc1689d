package server

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
	"github.com/sentinelcam/sentinel/server/analysis"
	"github.com/sentinelcam/sentinel/server/live"
	"github.com/sentinelcam/sentinel/server/pipeline"
)

const maxBodyBytes = 1024 * 1024

// One frame of tracked boxes from the upstream detector+tracker
type ingestFrameJSON struct {
	FrameID int64                 `json:"frameId"`
	Boxes   []pipeline.TrackedBox `json:"boxes"`
}

type cameraStatusJSON struct {
	Config        live.CameraConfig `json:"config"`
	Healthy       bool              `json:"healthy"`
	DroppedFrames int64             `json:"droppedFrames"`
	NumTracks     int               `json:"numTracks"`
}

func (s *Server) cameraOrPanic(params httprouter.Params) *live.Camera {
	id := www.ParseID(params.ByName("cameraID"))
	cam := s.live.Camera(id)
	if cam == nil {
		www.PanicNotFound()
	}
	return cam
}

func (s *Server) httpCameraAdd(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cfg := live.CameraConfig{}
	www.ReadJSON(w, r, &cfg, maxBodyBytes)
	cam, err := s.startCamera(cfg)
	www.CheckClient(err)
	www.SendJSONID(w, cam.Config.ID)
}

func (s *Server) httpCameraList(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cams := s.live.Cameras()
	list := make([]cameraStatusJSON, 0, len(cams))
	for _, cam := range cams {
		list = append(list, cameraStatusJSON{
			Config:        cam.Config,
			Healthy:       cam.Healthy(),
			DroppedFrames: cam.DroppedFrames(),
			NumTracks:     cam.Engine().NumTracks(),
		})
	}
	www.SendJSON(w, list)
}

func (s *Server) httpCameraStop(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := www.ParseID(params.ByName("cameraID"))
	if err := s.stopCamera(id); err != nil {
		www.Panic(http.StatusNotFound, err.Error())
	}
	www.SendOK(w)
}

func (s *Server) httpCameraFrames(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cam := s.cameraOrPanic(params)
	body := ingestFrameJSON{}
	www.ReadJSON(w, r, &body, maxBodyBytes)

	s.camerasLock.Lock()
	source := s.sources[cam.Config.ID]
	s.camerasLock.Unlock()
	if source == nil {
		www.PanicNotFound()
	}
	if err := source.Push(&pipeline.Frame{ID: body.FrameID, Boxes: body.Boxes}); err != nil {
		www.Panic(http.StatusServiceUnavailable, err.Error())
	}
	www.SendOK(w)
}

func (s *Server) httpCameraReport(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cam := s.cameraOrPanic(params)
	www.SendJSON(w, cam.Report())
}

func (s *Server) httpCameraHeatmap(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cam := s.cameraOrPanic(params)
	quality := www.QueryInt(r, "quality")
	if quality == 0 {
		quality = 85
	}
	jpg, err := cam.Engine().HeatmapJPEG(quality)
	www.Check(err)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(jpg)
}

func (s *Server) httpCameraEvents(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cam := s.cameraOrPanic(params)
	filter := analysis.EventFilter{}
	if actions := www.QueryValue(r, "actions"); actions != "" {
		for _, a := range strings.Split(actions, ",") {
			filter.Actions = append(filter.Actions, analysis.Action(a))
		}
	}
	if tracks := www.QueryValue(r, "tracks"); tracks != "" {
		filter.TrackIDs = www.SplitIDList(tracks)
	}
	minTime, haveMin := queryFloat(r, "minTime")
	maxTime, haveMax := queryFloat(r, "maxTime")
	if haveMin || haveMax {
		filter.HasTimeRange = true
		filter.MinTimeSec = minTime
		filter.MaxTimeSec = maxTime
		if !haveMax {
			filter.MaxTimeSec = math.MaxFloat64
		}
	}
	www.SendJSON(w, cam.Engine().ExportEvents(filter))
}

func (s *Server) httpCameraAlerts(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cam := s.cameraOrPanic(params)
	www.SendJSON(w, cam.Engine().ExportAlerts())
}

func (s *Server) httpCameraAcknowledge(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cam := s.cameraOrPanic(params)
	alertID := params.ByName("alertID")
	acked := cam.Engine().AcknowledgeAlert(alertID)
	inDB, err := s.eventDB.AcknowledgeAlert(alertID)
	www.Check(err)
	www.SendJSONBool(w, acked || inDB)
}

func queryFloat(r *http.Request, key string) (float64, bool) {
	v, exists := www.QueryValueEx(r, key)
	if !exists || v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		www.PanicBadRequestf("Must specify a number for %v", key)
	}
	return f, true
}
