// Package server ties the analysis engine, live camera manager, job pool
// and event archive together behind an HTTP/WebSocket API. Detection and
// tracking stay outside: callers push tracked boxes in, analytics come out.
package server

import (
	"fmt"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/sentinelcam/sentinel/server/config"
	"github.com/sentinelcam/sentinel/server/eventdb"
	"github.com/sentinelcam/sentinel/server/jobs"
	"github.com/sentinelcam/sentinel/server/live"
	"github.com/sentinelcam/sentinel/server/pipeline"
)

type Server struct {
	Log logs.Log

	cfg     *config.ConfigJSON
	eventDB *eventdb.EventDB
	jobs    *jobs.Manager
	live    *live.Manager

	wsUpgrader websocket.Upgrader

	// One ingest source and one archive watcher per running camera
	camerasLock sync.Mutex
	sources     map[int64]*pushSource
	archivers   map[int64]*archiver
}

func NewServer(log logs.Log, cfg *config.ConfigJSON) (*Server, error) {
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	eventDB, err := eventdb.NewEventDB(log, cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	jobManager, err := jobs.NewManager(log, cfg.Jobs.Workers, cfg.Jobs.QueueSize)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Log:       log,
		cfg:       cfg,
		eventDB:   eventDB,
		jobs:      jobManager,
		live:      live.NewManager(log),
		sources:   map[int64]*pushSource{},
		archivers: map[int64]*archiver{},
	}
	for _, camCfg := range cfg.Cameras {
		if _, err := s.startCamera(camCfg); err != nil {
			s.Shutdown()
			return nil, fmt.Errorf("Failed to start camera %v: %w", camCfg.Name, err)
		}
	}
	return s, nil
}

// startCamera creates the camera's ingest source, runs it on the live
// manager, and attaches the archive watcher.
func (s *Server) startCamera(cfg live.CameraConfig) (*live.Camera, error) {
	opts := pipeline.DefaultOptions(cfg.Width, cfg.Height, cfg.FPS)
	opts.Annotate = s.cfg.Annotate
	opts.Alerts.Webhook = s.cfg.Webhook
	source := newPushSource(ingestQueueSize)
	cam, err := s.live.AddCamera(cfg, source, opts)
	if err != nil {
		source.Close()
		return nil, err
	}
	s.camerasLock.Lock()
	s.sources[cam.Config.ID] = source
	s.archivers[cam.Config.ID] = s.startArchiver(cam.Config.ID)
	s.camerasLock.Unlock()
	return cam, nil
}

func (s *Server) stopCamera(id int64) error {
	s.camerasLock.Lock()
	arch := s.archivers[id]
	delete(s.sources, id) // the live manager closes the source itself
	delete(s.archivers, id)
	s.camerasLock.Unlock()

	err := s.live.StopCamera(id)
	if arch != nil {
		arch.stop()
	}
	return err
}

func (s *Server) Shutdown() {
	s.Log.Infof("Server shutting down")
	for _, cam := range s.live.Cameras() {
		if err := s.stopCamera(cam.Config.ID); err != nil {
			s.Log.Warnf("Shutdown: %v", err)
		}
	}
	s.jobs.Close()
	s.Log.Infof("Server shutdown complete")
}

// archiver copies a camera's events and alerts from its watcher channel
// into the sqlite archive
type archiver struct {
	cameraID int64
	updates  chan *live.Update
	done     chan bool
	remove   func()
	db       *eventdb.EventDB
	log      logs.Log
}

func (s *Server) startArchiver(cameraID int64) *archiver {
	a := &archiver{
		cameraID: cameraID,
		updates:  s.live.AddWatcher(cameraID),
		done:     make(chan bool),
		db:       s.eventDB,
		log:      s.Log,
	}
	a.remove = func() { s.live.RemoveWatcher(cameraID, a.updates) }
	go a.run()
	return a
}

func (a *archiver) run() {
	defer close(a.done)
	for update := range a.updates {
		if update.Result == nil {
			continue
		}
		if err := a.db.AddEvents(a.cameraID, update.Result.Events); err != nil {
			a.log.Errorf("Failed to archive events for camera %v: %v", a.cameraID, err)
		}
		if err := a.db.AddAlerts(a.cameraID, update.Result.Alerts); err != nil {
			a.log.Errorf("Failed to archive alerts for camera %v: %v", a.cameraID, err)
		}
	}
}

func (a *archiver) stop() {
	a.remove()
	close(a.updates)
	<-a.done
}
