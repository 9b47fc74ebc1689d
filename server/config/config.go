// Package config loads the server's JSON config file and validates it
// eagerly, so a bad config fails at startup instead of mid-stream.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cyclopcam/logs"
	"github.com/sentinelcam/sentinel/server/alerting"
	"github.com/sentinelcam/sentinel/server/live"
)

// Root server config
type ConfigJSON struct {
	HTTP     HTTPJSON               `json:"http"`
	Database DatabaseJSON           `json:"database"`
	Jobs     JobsJSON               `json:"jobs"`
	Webhook  alerting.WebhookConfig `json:"webhook"`  // Disabled when URL is empty
	Annotate bool                   `json:"annotate"` // Render annotated frames for live viewers
	Cameras  []live.CameraConfig    `json:"cameras"`
}

type HTTPJSON struct {
	Port int `json:"port,omitempty"`
}

type DatabaseJSON struct {
	Path string `json:"path,omitempty"` // sqlite archive of events and alerts
}

type JobsJSON struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queueSize,omitempty"`
}

func DefaultConfig() ConfigJSON {
	return ConfigJSON{
		HTTP:     HTTPJSON{Port: 8080},
		Database: DatabaseJSON{Path: "sentinel.sqlite"},
		Jobs:     JobsJSON{Workers: 2, QueueSize: 32},
		Webhook:  alerting.DefaultWebhookConfig(),
	}
}

// Load reads the config file, fills in defaults for absent fields, and
// validates the result
func Load(log logs.Log, filename string) (*ConfigJSON, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Failed to read config file '%v': %w", filename, err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("Failed to parse config file '%v': %w", filename, err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("Invalid config in '%v': %w", filename, err)
	}
	log.Infof("Loaded config from '%v' (%v cameras)", filename, len(cfg.Cameras))
	return &cfg, nil
}

// Returns an error if there is anything invalid about the config, or nil if everything is OK
func ValidateConfig(c *ConfigJSON) error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("Invalid HTTP port %v", c.HTTP.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("Database path is required")
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("Jobs workers %v must be at least 1", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize < 1 {
		return fmt.Errorf("Jobs queueSize %v must be at least 1", c.Jobs.QueueSize)
	}
	if c.Webhook.URL != "" {
		if err := c.Webhook.Validate(); err != nil {
			return err
		}
	}
	seen := map[int64]bool{}
	for i := range c.Cameras {
		cam := &c.Cameras[i]
		if err := cam.Validate(); err != nil {
			return err
		}
		if cam.ID != 0 {
			if seen[cam.ID] {
				return fmt.Errorf("Duplicate camera id %v", cam.ID)
			}
			seen[cam.ID] = true
		}
	}
	return nil
}
