// Package config implements the Configuration Store: schema-validated YAML
// load/save with an mtime-gated cache, snake_case/camelCase tolerant
// decoding, a file-watcher triggered reload, and environment variable
// overrides, grounded on the teacher's own config-loading conventions
// (default-merge, atomic save) and enriched with gopkg.in/yaml.v3 and
// github.com/fsnotify/fsnotify, both drawn from the wider retrieved pack.
package config

// Destination is a named target a stream may be fanned out to.
type Destination struct {
	ID          string            `yaml:"id,omitempty"`
	Name        string            `yaml:"name"`
	DisplayName string            `yaml:"display_name,omitempty"`
	URL         string            `yaml:"rtmp_url"`
	StreamKey   string            `yaml:"stream_key"`
	Enabled     bool              `yaml:"enabled"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`
}

// Ingest configures the inbound RTMP listener.
type Ingest struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	App       string `yaml:"app_name"`
	StreamKey string `yaml:"stream_key"`
	Enabled   bool   `yaml:"enabled"`
}

// OBS holds the reserved OBS WebSocket remote-control binding. The core does
// not connect to it; the fields are carried for forward compatibility with a
// collaborator component.
type OBS struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// UI binds the control plane listener.
type UI struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Debug bool   `yaml:"debug"`
}

// Config is the persisted root document, already flattened from its on-disk
// stream_manager nesting (see document in document.go) into the shape every
// other component consumes.
type Config struct {
	Version              string        `yaml:"version"`
	OBS                  OBS           `yaml:"-"`
	Ingest               Ingest        `yaml:"-"`
	AutoReconnect        bool          `yaml:"-"`
	ReconnectDelay       int           `yaml:"-"`
	MaxReconnectAttempts int           `yaml:"-"`
	Destinations         []Destination `yaml:"-"`
	UI                   UI            `yaml:"-"`
}

// Clone returns a deep copy sufficient for safe cross-goroutine handoff.
func (c Config) Clone() Config {
	out := c
	out.Destinations = make([]Destination, len(c.Destinations))
	for i, d := range c.Destinations {
		dest := d
		if d.Metadata != nil {
			dest.Metadata = make(map[string]string, len(d.Metadata))
			for k, v := range d.Metadata {
				dest.Metadata[k] = v
			}
		}
		out.Destinations[i] = dest
	}
	return out
}

// Default returns the built-in default configuration that on-disk documents
// are merged against.
func Default() Config {
	return Config{
		Version: "1",
		Ingest: Ingest{
			Host:    "0.0.0.0",
			Port:    1935,
			App:     "live",
			Enabled: true,
		},
		UI: UI{
			Host: "0.0.0.0",
			Port: 8080,
		},
		ReconnectDelay:       2,
		MaxReconnectAttempts: 10,
	}
}
