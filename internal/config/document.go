package config

import (
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// document mirrors the on-disk shape exactly, including the stream_manager
// nesting; Config is the flattened, component-facing view built from it.
type document struct {
	Version       string `yaml:"version"`
	StreamManager struct {
		OBS                  OBS           `yaml:"obs"`
		RTMPServer           Ingest        `yaml:"rtmp_server"`
		AutoReconnect        bool          `yaml:"auto_reconnect"`
		ReconnectDelay       int           `yaml:"reconnect_delay"`
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
		Platforms            []Destination `yaml:"platforms"`
	} `yaml:"stream_manager"`
	UI UI `yaml:"ui"`
}

func documentFromDefault(cfg Config) document {
	var doc document
	doc.Version = cfg.Version
	doc.StreamManager.OBS = cfg.OBS
	doc.StreamManager.RTMPServer = cfg.Ingest
	doc.StreamManager.AutoReconnect = cfg.AutoReconnect
	doc.StreamManager.ReconnectDelay = cfg.ReconnectDelay
	doc.StreamManager.MaxReconnectAttempts = cfg.MaxReconnectAttempts
	doc.StreamManager.Platforms = cfg.Destinations
	doc.UI = cfg.UI
	return doc
}

func (doc document) toConfig() Config {
	cfg := Config{
		Version:              doc.Version,
		OBS:                  doc.StreamManager.OBS,
		Ingest:               doc.StreamManager.RTMPServer,
		AutoReconnect:        doc.StreamManager.AutoReconnect,
		ReconnectDelay:       doc.StreamManager.ReconnectDelay,
		MaxReconnectAttempts: doc.StreamManager.MaxReconnectAttempts,
		UI:                   doc.UI,
	}
	for _, d := range doc.StreamManager.Platforms {
		// Invariant: a destination with an empty URL or stream key is
		// silently filtered at load.
		if strings.TrimSpace(d.URL) == "" || strings.TrimSpace(d.StreamKey) == "" {
			continue
		}
		if strings.TrimSpace(d.ID) == "" {
			d.ID = uuid.NewString()
		}
		cfg.Destinations = append(cfg.Destinations, d)
	}
	return cfg
}

// parseDocument decodes raw YAML bytes into a document that already carries
// the supplied defaults, accepting either snake_case (canonical) or
// camelCase keys at every level by normalizing the parsed node tree before
// decoding into the typed struct.
func parseDocument(raw []byte, base document) (document, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return base, nil
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return document{}, err
	}
	normalizeKeys(&node)
	doc := base
	if err := node.Decode(&doc); err != nil {
		return document{}, err
	}
	return doc, nil
}

func marshalDocument(doc document) ([]byte, error) {
	return yaml.Marshal(doc)
}

// normalizeKeys walks a decoded YAML node tree and rewrites every mapping
// key from camelCase to snake_case in place, so camelCase input decodes
// identically to the canonical snake_case form without duplicating yaml
// struct tags.
func normalizeKeys(node *yaml.Node) {
	switch node.Kind {
	case yaml.DocumentNode:
		for _, child := range node.Content {
			normalizeKeys(child)
		}
	case yaml.MappingNode:
		for i := 0; i < len(node.Content)-1; i += 2 {
			key := node.Content[i]
			if key.Kind == yaml.ScalarNode {
				key.Value = camelToSnake(key.Value)
			}
			normalizeKeys(node.Content[i+1])
		}
	case yaml.SequenceNode:
		for _, child := range node.Content {
			normalizeKeys(child)
		}
	}
}

func camelToSnake(s string) string {
	if !strings.ContainsAny(s, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		return s
	}
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
