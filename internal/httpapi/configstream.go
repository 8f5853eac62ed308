package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ai-gateway/internal/gwconfig"
)

var configStreamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// configSnapshotPayload is the summary broadcast over the config stream,
// adapted from the teacher's DashboardPayload (internal/services/wshub.go)
// but describing a gwconfig.GatewayConfig instead of request stats. Guard
// and provider API keys never leave this struct.
type configSnapshotPayload struct {
	Type      string            `json:"type"`
	Pipelines []pipelineSummary `json:"pipelines"`
	Models    []modelSummary    `json:"models"`
	Guards    []guardSummary    `json:"guards"`
}

type pipelineSummary struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	PluginCount int    `json:"plugin_count"`
}

type modelSummary struct {
	Key      string `json:"key"`
	Provider string `json:"provider"`
}

type guardSummary struct {
	Name string `json:"name"`
	Mode string `json:"mode"`
}

func buildConfigSnapshotPayload(cfg *gwconfig.GatewayConfig) configSnapshotPayload {
	payload := configSnapshotPayload{Type: "config_update"}
	if cfg == nil {
		return payload
	}
	for _, p := range cfg.Pipelines {
		payload.Pipelines = append(payload.Pipelines, pipelineSummary{
			Name: p.Name, Type: string(p.Type), PluginCount: len(p.Plugins),
		})
	}
	for _, m := range cfg.Models {
		payload.Models = append(payload.Models, modelSummary{Key: m.Key, Provider: m.Provider})
	}
	for _, g := range cfg.Guards {
		payload.Guards = append(payload.Guards, guardSummary{Name: g.Name, Mode: string(g.Mode)})
	}
	return payload
}

// handleConfigStream upgrades to a WebSocket and pushes a fresh
// configSnapshotPayload every time the gwconfig.Manager publishes a new
// snapshot, generalizing the teacher's DashboardHub debounced broadcast
// (internal/services/wshub.go) from stats polling to gwconfig.Manager's
// native pub/sub (internal/gwconfig/manager.go's Subscribe).
func (s *Server) handleConfigStream(w http.ResponseWriter, r *http.Request) {
	conn, err := configStreamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.Warnw("config stream upgrade failed", "error", err)
		}
		return
	}
	defer conn.Close()

	if err := writeConfigSnapshot(conn, s.cfg.Current()); err != nil {
		return
	}

	updates, cancel := s.cfg.Subscribe()
	defer cancel()

	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-disconnected:
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			if err := writeConfigSnapshot(conn, cfg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

func writeConfigSnapshot(conn *websocket.Conn, cfg *gwconfig.GatewayConfig) error {
	data, err := json.Marshal(buildConfigSnapshotPayload(cfg))
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
