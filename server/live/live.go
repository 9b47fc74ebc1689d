// Package live runs the real-time mode: one capture loop per camera feeding
// a bounded frame queue, one analysis engine per camera consuming it, and
// watcher channels broadcasting results to connected viewers.
package live

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/sentinelcam/sentinel/pkg/gen"
	"github.com/sentinelcam/sentinel/server/pipeline"
)

// How long Stop waits for a camera's goroutines before giving up on the join
const stopJoinTimeout = 5 * time.Second

const watcherChannelSize = 100

// FrameSource is the external capture collaborator for one camera.
// NextFrame blocks until a frame is available and returns io.EOF when the
// stream ends.
type FrameSource interface {
	NextFrame() (*pipeline.Frame, error)
	Close()
}

type CameraConfig struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	FPS           float64 `json:"fps"`
	BufferSeconds float64 `json:"bufferSeconds"` // capacity of the drop-oldest frame queue
}

func (c CameraConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("camera: name is required")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("camera %v: invalid frame size %vx%v", c.Name, c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("camera %v: fps %v must be positive", c.Name, c.FPS)
	}
	if c.BufferSeconds <= 0 {
		return fmt.Errorf("camera %v: bufferSeconds %v must be positive", c.Name, c.BufferSeconds)
	}
	return nil
}

// Update is what watchers receive for every analyzed frame. The summary
// counts are what goes over the wire to viewers; Result carries the full
// stage outputs for in-process consumers.
type Update struct {
	CameraID  int64                 `json:"cameraId"`
	FrameID   int64                 `json:"frameId"`
	NumTracks int                   `json:"numTracks"`
	Events    int                   `json:"events"`
	Alerts    int                   `json:"alerts"`
	Result    *pipeline.FrameResult `json:"-"`
}

// Camera owns one capture loop, one frame queue and one analysis engine
type Camera struct {
	Config CameraConfig

	log     logs.Log
	source  FrameSource
	engine  *pipeline.Engine
	manager *Manager

	frames          chan *pipeline.Frame
	stop            chan bool // closed to request cooperative shutdown
	captureStopped  chan bool
	analysisStopped chan bool
	healthy         atomic.Bool
	dropped         atomic.Int64
}

// Healthy is false once the camera's capture loop has failed or stopped
func (c *Camera) Healthy() bool {
	return c.healthy.Load()
}

// DroppedFrames is the number of frames discarded because analysis fell
// behind capture
func (c *Camera) DroppedFrames() int64 {
	return c.dropped.Load()
}

func (c *Camera) Report() pipeline.Report {
	return c.engine.Report()
}

// Engine exposes the camera's analysis engine for exports (heatmap, alerts).
// Its export methods are safe while the analysis loop runs.
func (c *Camera) Engine() *pipeline.Engine {
	return c.engine
}

func (c *Camera) captureLoop() {
	defer close(c.captureStopped)
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		frame, err := c.source.NextFrame()
		if err == io.EOF {
			c.log.Infof("Camera %v stream ended", c.Config.Name)
			c.healthy.Store(false)
			return
		} else if err != nil {
			c.log.Errorf("Camera %v capture failed: %v", c.Config.Name, err)
			c.healthy.Store(false)
			return
		}
		// Capture only produces. If the queue is full, drop the oldest
		// frame so that capture cadence never couples to analysis cost.
		select {
		case c.frames <- frame:
		default:
			select {
			case <-c.frames:
				c.dropped.Add(1)
			default:
			}
			select {
			case c.frames <- frame:
			default:
			}
		}
	}
}

func (c *Camera) analysisLoop() {
	defer close(c.analysisStopped)
	for {
		select {
		case <-c.stop:
			return
		case frame := <-c.frames:
			result, err := c.engine.ProcessFrame(frame)
			if err != nil {
				// Fatal per the error taxonomy, but only for this
				// camera. Others continue unaffected.
				c.log.Errorf("Camera %v analysis failed: %v", c.Config.Name, err)
				c.healthy.Store(false)
				return
			}
			if result.Skipped {
				continue
			}
			c.manager.sendToWatchers(&Update{
				CameraID:  c.Config.ID,
				Result:    result,
				FrameID:   result.FrameID,
				NumTracks: len(result.Snapshots),
				Events:    len(result.Events),
				Alerts:    len(result.Alerts),
			})
		}
	}
}

// Manager owns the set of running cameras and their watchers
type Manager struct {
	log logs.Log

	camerasLock  sync.Mutex
	cameraFromID map[int64]*Camera
	nextCameraID int64

	watchersLock sync.RWMutex
	watchers     map[int64][]chan *Update
}

func NewManager(log logs.Log) *Manager {
	return &Manager{
		log:          log,
		cameraFromID: map[int64]*Camera{},
		watchers:     map[int64][]chan *Update{},
	}
}

// AddCamera starts the capture and analysis loops for a new camera and
// returns it. The camera gets its own engine instance, so its state never
// mixes with other cameras.
func (m *Manager) AddCamera(cfg CameraConfig, source FrameSource, opts pipeline.Options) (*Camera, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	engine, err := pipeline.NewEngine(m.log, pipeline.BoxSource{}, opts)
	if err != nil {
		return nil, err
	}
	return m.addCameraWithEngine(cfg, source, engine)
}

// AddCameraWithTracker is AddCamera for callers that bring their own
// upstream tracker.
func (m *Manager) AddCameraWithTracker(cfg CameraConfig, source FrameSource, tracker pipeline.Tracker, opts pipeline.Options) (*Camera, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	engine, err := pipeline.NewEngine(m.log, tracker, opts)
	if err != nil {
		return nil, err
	}
	return m.addCameraWithEngine(cfg, source, engine)
}

func (m *Manager) addCameraWithEngine(cfg CameraConfig, source FrameSource, engine *pipeline.Engine) (*Camera, error) {
	m.camerasLock.Lock()
	defer m.camerasLock.Unlock()
	if cfg.ID == 0 {
		m.nextCameraID++
		cfg.ID = m.nextCameraID
	} else if m.cameraFromID[cfg.ID] != nil {
		engine.Close()
		return nil, fmt.Errorf("camera id %v is already running", cfg.ID)
	}
	bufferSize := max(1, int(cfg.BufferSeconds*cfg.FPS))
	cam := &Camera{
		Config:          cfg,
		log:             m.log,
		source:          source,
		engine:          engine,
		manager:         m,
		frames:          make(chan *pipeline.Frame, bufferSize),
		stop:            make(chan bool),
		captureStopped:  make(chan bool),
		analysisStopped: make(chan bool),
	}
	cam.healthy.Store(true)
	m.cameraFromID[cfg.ID] = cam
	go cam.captureLoop()
	go cam.analysisLoop()
	m.log.Infof("Camera %v (%v) started, frame queue %v", cfg.ID, cfg.Name, bufferSize)
	return cam, nil
}

// StopCamera asks the camera's loops to stop, waits up to a bounded timeout
// for them to join, and releases the camera's resources.
func (m *Manager) StopCamera(id int64) error {
	m.camerasLock.Lock()
	cam := m.cameraFromID[id]
	delete(m.cameraFromID, id)
	m.camerasLock.Unlock()
	if cam == nil {
		return fmt.Errorf("camera id %v is not running", id)
	}

	close(cam.stop)
	cam.source.Close()
	joined := true
	for _, ch := range []chan bool{cam.captureStopped, cam.analysisStopped} {
		select {
		case <-ch:
		case <-time.After(stopJoinTimeout):
			joined = false
		}
	}
	if !joined {
		m.log.Warnf("Camera %v did not stop within %v, abandoning its goroutines", cam.Config.Name, stopJoinTimeout)
	}
	cam.healthy.Store(false)
	cam.engine.Close()
	m.log.Infof("Camera %v (%v) stopped", cam.Config.ID, cam.Config.Name)
	return nil
}

func (m *Manager) Camera(id int64) *Camera {
	m.camerasLock.Lock()
	defer m.camerasLock.Unlock()
	return m.cameraFromID[id]
}

func (m *Manager) Cameras() []*Camera {
	m.camerasLock.Lock()
	defer m.camerasLock.Unlock()
	cams := make([]*Camera, 0, len(m.cameraFromID))
	for _, cam := range m.cameraFromID {
		cams = append(cams, cam)
	}
	return cams
}

// Shutdown stops all cameras
func (m *Manager) Shutdown() {
	for _, cam := range m.Cameras() {
		if err := m.StopCamera(cam.Config.ID); err != nil {
			m.log.Warnf("Shutdown: %v", err)
		}
	}
}

// AddWatcher registers to receive analysis updates for one camera
func (m *Manager) AddWatcher(cameraID int64) chan *Update {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	ch := make(chan *Update, watcherChannelSize)
	m.watchers[cameraID] = append(m.watchers[cameraID], ch)
	return ch
}

func (m *Manager) RemoveWatcher(cameraID int64, ch chan *Update) {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	for i, w := range m.watchers[cameraID] {
		if w == ch {
			m.watchers[cameraID] = gen.DeleteFromSliceUnordered(m.watchers[cameraID], i)
			return
		}
	}
	m.log.Warnf("RemoveWatcher failed to find channel for camera %v", cameraID)
}

func (m *Manager) sendToWatchers(update *Update) {
	m.watchersLock.RLock()
	defer m.watchersLock.RUnlock()
	for _, ch := range m.watchers[update.CameraID] {
		// If a watcher stalls we drop its frames rather than stalling
		// the analysis loop, so other watchers keep running.
		if len(ch) >= cap(ch)*9/10 {
			m.log.Warnf("Watcher on camera %v is falling behind. I am going to drop frames.", update.CameraID)
		} else {
			ch <- update
		}
	}
}
