package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sentinelcam/sentinel/server/analysis"
	"github.com/sentinelcam/sentinel/server/jobs"
	"github.com/sentinelcam/sentinel/server/pipeline"
)

// A batch job replays a recorded file of tracked boxes through a fresh
// engine and writes the events, alerts, heatmap and report artifacts.
// The frames file is JSONL: one ingestFrameJSON per line.
type BatchRequestJSON struct {
	Name       string  `json:"name"`
	CameraID   int64   `json:"cameraId"` // archive attribution
	FramesPath string  `json:"framesPath"`
	OutputDir  string  `json:"outputDir"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
}

func (b BatchRequestJSON) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("batch: name is required")
	}
	if b.FramesPath == "" {
		return fmt.Errorf("batch: framesPath is required")
	}
	if b.OutputDir == "" {
		return fmt.Errorf("batch: outputDir is required")
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("batch: invalid frame size %vx%v", b.Width, b.Height)
	}
	if b.FPS <= 0 {
		return fmt.Errorf("batch: fps %v must be positive", b.FPS)
	}
	return nil
}

// Shape of the events.json artifact
type eventsExportJSON struct {
	Events  []*analysis.Event     `json:"events"`
	Summary analysis.EventSummary `json:"summary"`
}

// Frame files can carry hundreds of boxes per line
const maxFrameLineBytes = 10 * 1024 * 1024

// RunBatch replays the frames file through a fresh engine, archives the
// results, and writes the output artifacts. Jobs submitted over the API run
// this on the worker pool; the CLI's batch mode calls it directly.
func (s *Server) RunBatch(req BatchRequestJSON) (*jobs.Result, error) {
	engine, err := pipeline.NewEngine(s.Log, pipeline.BoxSource{}, pipeline.DefaultOptions(req.Width, req.Height, req.FPS))
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	file, err := os.Open(req.FramesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open frames file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxFrameLineBytes)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := ingestFrameJSON{}
		if err := json.Unmarshal(line, &frame); err != nil {
			return nil, fmt.Errorf("frames file line %v: %w", lineNum, err)
		}
		result, err := engine.ProcessFrame(&pipeline.Frame{ID: frame.FrameID, Boxes: frame.Boxes})
		if err != nil {
			return nil, err
		}
		if err := s.eventDB.AddEvents(req.CameraID, result.Events); err != nil {
			return nil, fmt.Errorf("failed to archive events: %w", err)
		}
		if err := s.eventDB.AddAlerts(req.CameraID, result.Alerts); err != nil {
			return nil, fmt.Errorf("failed to archive alerts: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read frames file: %w", err)
	}

	if err := os.MkdirAll(req.OutputDir, 0770); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	artifacts := map[string]string{}
	writeJSON := func(name string, obj any) error {
		path := filepath.Join(req.OutputDir, name)
		raw, err := json.MarshalIndent(obj, "", "\t")
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, raw, 0660); err != nil {
			return err
		}
		artifacts[name] = path
		return nil
	}
	if err := writeJSON("events.json", eventsExportJSON{
		Events:  engine.ExportEvents(analysis.EventFilter{}),
		Summary: engine.EventLog().Summary(),
	}); err != nil {
		return nil, fmt.Errorf("failed to write events.json: %w", err)
	}
	if err := writeJSON("alerts.json", engine.ExportAlerts()); err != nil {
		return nil, fmt.Errorf("failed to write alerts.json: %w", err)
	}
	report := engine.Report()
	if err := writeJSON("report.json", report); err != nil {
		return nil, fmt.Errorf("failed to write report.json: %w", err)
	}
	jpg, err := engine.HeatmapJPEG(90)
	if err != nil {
		return nil, fmt.Errorf("failed to render heatmap: %w", err)
	}
	heatmapPath := filepath.Join(req.OutputDir, "heatmap.jpg")
	if err := os.WriteFile(heatmapPath, jpg, 0660); err != nil {
		return nil, fmt.Errorf("failed to write heatmap.jpg: %w", err)
	}
	artifacts["heatmap.jpg"] = heatmapPath

	s.Log.Infof("Batch %v analyzed %v frames (%v events, %v alerts)",
		req.Name, report.Frames, report.Events.TotalEvents, report.Alerts.TotalAlerts)
	return &jobs.Result{Artifacts: artifacts, Report: report}, nil
}
