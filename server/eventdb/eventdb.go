// Package eventdb archives analysis events and alerts in sqlite, with a
// bounded retention policy so a busy camera can't grow the database forever.
package eventdb

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/sentinelcam/sentinel/server/alerting"
	"github.com/sentinelcam/sentinel/server/analysis"
	"gorm.io/gorm"
)

const (
	DefaultMaxEventCount = 100000
	DefaultMaxAlertCount = 10000

	// Purge runs only once we're this far over the limit, so that the common
	// insert path doesn't delete on every call
	purgeSlack = 5
)

// EventDB is the archive of events and alerts
type EventDB struct {
	log logs.Log
	DB  *gorm.DB

	maxEventCount int64
	maxAlertCount int64
}

// Open or create the archive DB
func NewEventDB(log logs.Log, dbPath string) (*EventDB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0770); err != nil {
			return nil, fmt.Errorf("Failed to create event DB storage path '%v': %w", dir, err)
		}
	}
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbPath), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open event database %v: %w", dbPath, err)
	}
	return &EventDB{
		log:           log,
		DB:            db,
		maxEventCount: DefaultMaxEventCount,
		maxAlertCount: DefaultMaxAlertCount,
	}, nil
}

// AddEvents archives one frame's new events for a camera
func (e *EventDB) AddEvents(cameraID int64, events []*analysis.Event) error {
	if len(events) == 0 {
		return nil
	}
	e.purgeOldEvents()
	now := dbh.MakeIntTime(time.Now())
	records := make([]*Event, 0, len(events))
	for _, ev := range events {
		records = append(records, &Event{
			Camera:     cameraID,
			FrameID:    ev.FrameID,
			Time:       now,
			TrackID:    ev.TrackID,
			Action:     ev.Action,
			Confidence: ev.Confidence,
			Detail: dbh.MakeJSONField(EventDetailJSON{
				Bbox:     ev.Bbox,
				Metadata: ev.Metadata,
			}),
		})
	}
	return e.DB.Create(records).Error
}

// AddAlerts archives one frame's raised alerts for a camera
func (e *EventDB) AddAlerts(cameraID int64, alerts []*alerting.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	e.purgeOldAlerts()
	records := make([]*Alert, 0, len(alerts))
	for _, a := range alerts {
		records = append(records, &Alert{
			AlertID:      a.ID,
			Camera:       cameraID,
			Type:         a.Type,
			Severity:     a.Severity,
			FrameID:      a.FrameID,
			Time:         dbh.MakeIntTime(a.Timestamp),
			Message:      a.Message,
			Acknowledged: a.Acknowledged,
			TrackIDs:     dbh.MakeJSONField(a.TrackIDs),
		})
	}
	return e.DB.Create(records).Error
}

// GetEvents returns a camera's archived events inside [start, end), newest
// first, at most limit. Zero times mean unbounded.
func (e *EventDB) GetEvents(cameraID int64, start, end time.Time, limit int) ([]*Event, error) {
	q := e.DB.Where("camera = ?", cameraID)
	if !start.IsZero() {
		q = q.Where("time >= ?", dbh.MakeIntTime(start))
	}
	if !end.IsZero() {
		q = q.Where("time < ?", dbh.MakeIntTime(end))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var events []*Event
	if err := q.Order("id DESC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// GetAlerts returns a camera's archived alerts, newest first.
// unackOnly restricts to alerts nobody has acknowledged yet.
func (e *EventDB) GetAlerts(cameraID int64, unackOnly bool, limit int) ([]*Alert, error) {
	q := e.DB.Where("camera = ?", cameraID)
	if unackOnly {
		q = q.Where("acknowledged = ?", false)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var alerts []*Alert
	if err := q.Order("id DESC").Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

// AcknowledgeAlert marks the alert with the given engine uuid.
// Returns false if no such alert exists.
func (e *EventDB) AcknowledgeAlert(alertID string) (bool, error) {
	result := e.DB.Model(&Alert{}).Where("alert_id = ?", alertID).Update("acknowledged", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Counts returns the number of archived events and alerts
func (e *EventDB) Counts() (events, alerts int64, err error) {
	if err = e.DB.Model(&Event{}).Count(&events).Error; err != nil {
		return
	}
	err = e.DB.Model(&Alert{}).Count(&alerts).Error
	return
}

func (e *EventDB) purgeOldEvents() {
	e.purgeTable("event", &Event{}, e.maxEventCount)
}

func (e *EventDB) purgeOldAlerts() {
	e.purgeTable("alert", &Alert{}, e.maxAlertCount)
}

func (e *EventDB) purgeTable(table string, model any, maxCount int64) {
	count := int64(0)
	if err := e.DB.Model(model).Count(&count).Error; err != nil {
		e.log.Warnf("Failed to count %v records for purge: %v", table, err)
		return
	}
	if count < maxCount+purgeSlack {
		return
	}
	del := e.DB.Exec("DELETE FROM "+table+" WHERE id IN (SELECT id FROM "+table+" ORDER BY id LIMIT ?)", count-maxCount)
	if del.Error != nil {
		e.log.Warnf("Failed to purge old %v records: %v", table, del.Error)
	} else {
		e.log.Infof("Purged %v old %v records", del.RowsAffected, table)
	}
}
