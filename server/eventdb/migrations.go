package eventdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE event(
			id INTEGER PRIMARY KEY,
			camera INT NOT NULL,
			frame_id INT NOT NULL,
			time INT NOT NULL,
			track_id INT NOT NULL,
			action TEXT NOT NULL,
			confidence REAL NOT NULL,
			detail TEXT
		);

		CREATE INDEX idx_event_camera_time ON event (camera, time);

		CREATE TABLE alert(
			id INTEGER PRIMARY KEY,
			alert_id TEXT NOT NULL,
			camera INT NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			frame_id INT NOT NULL,
			time INT NOT NULL,
			message TEXT NOT NULL,
			acknowledged INT NOT NULL DEFAULT 0,
			track_ids TEXT
		);

		CREATE UNIQUE INDEX idx_alert_alert_id ON alert (alert_id);
		CREATE INDEX idx_alert_camera_time ON alert (camera, time);
	`))

	return migs
}
