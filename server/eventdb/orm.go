package eventdb

import (
	"github.com/cyclopcam/dbh"
	"github.com/sentinelcam/sentinel/server/alerting"
	"github.com/sentinelcam/sentinel/server/analysis"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Event is one archived action transition of one track
type Event struct {
	BaseModel
	Camera     int64                           `json:"camera"`
	FrameID    int64                           `json:"frameId"`
	Time       dbh.IntTime                     `json:"time"`
	TrackID    int64                           `json:"trackId"`
	Action     analysis.Action                 `json:"action"`
	Confidence float32                         `json:"confidence"`
	Detail     *dbh.JSONField[EventDetailJSON] `json:"detail,omitempty"`
}

type EventDetailJSON struct {
	Bbox     [4]float32             `json:"bbox"`
	Metadata analysis.EventMetadata `json:"metadata"`
}

// Alert is one archived alert. AlertID is the engine's uuid, kept so that
// acknowledgements made through the API land on the right row.
type Alert struct {
	BaseModel
	AlertID      string                  `json:"alertId"`
	Camera       int64                   `json:"camera"`
	Type         string                  `json:"type"`
	Severity     alerting.Severity       `json:"severity"`
	FrameID      int64                   `json:"frameId"`
	Time         dbh.IntTime             `json:"time"`
	Message      string                  `json:"message"`
	Acknowledged bool                    `json:"acknowledged"`
	TrackIDs     *dbh.JSONField[[]int64] `json:"trackIds,omitempty"`
}
