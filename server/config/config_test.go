package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, err := Load(logs.NewTestingLog(t), path)
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.HTTP.Port)
	require.Equal(t, "sentinel.sqlite", cfg.Database.Path)
	require.Equal(t, 2, cfg.Jobs.Workers)
	require.Empty(t, cfg.Cameras)
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `{
		"http": {"port": 9090},
		"database": {"path": "/tmp/sentinel-test.sqlite"},
		"jobs": {"workers": 4, "queueSize": 16},
		"webhook": {"url": "http://alerts.example.com/hook"},
		"annotate": true,
		"cameras": [
			{"id": 1, "name": "front", "width": 1920, "height": 1080, "fps": 25, "bufferSeconds": 5}
		]
	}`)
	cfg, err := Load(logs.NewTestingLog(t), path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.HTTP.Port)
	require.Equal(t, 4, cfg.Jobs.Workers)
	require.Equal(t, "http://alerts.example.com/hook", cfg.Webhook.URL)
	// Webhook defaults survive a partial webhook section
	require.Equal(t, 3, cfg.Webhook.MaxRetries)
	require.True(t, cfg.Annotate)
	require.Len(t, cfg.Cameras, 1)
	require.Equal(t, "front", cfg.Cameras[0].Name)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	bad := []string{
		`{"http": {"port": -1}}`,
		`{"database": {"path": ""}}`,
		`{"jobs": {"workers": 0}}`,
		`{"webhook": {"url": "::not a url::"}}`,
		`{"cameras": [{"id": 1, "name": "a", "width": 640, "height": 480, "fps": 0, "bufferSeconds": 5}]}`,
		`{"cameras": [
			{"id": 1, "name": "a", "width": 640, "height": 480, "fps": 30, "bufferSeconds": 5},
			{"id": 1, "name": "b", "width": 640, "height": 480, "fps": 30, "bufferSeconds": 5}
		]}`,
		`{not json`,
	}
	for _, content := range bad {
		path := writeConfig(t, content)
		_, err := Load(logs.NewTestingLog(t), path)
		require.Error(t, err, "config %v should be rejected", content)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(logs.NewTestingLog(t), "/no/such/file.json")
	require.Error(t, err)
}
