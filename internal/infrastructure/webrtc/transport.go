package webrtc

import (
	"context"
	"fmt"

	"voicelink/internal/core/ports"
	"voicelink/pkg/config"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// TransportConfig holds the ICE and port settings for peer connections.
type TransportConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// TransportConfigFrom translates the application config into transport settings.
func TransportConfigFrom(cfg *config.Config) TransportConfig {
	var tc TransportConfig
	for _, s := range cfg.WebRTC.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		tc.ICEServers = append(tc.ICEServers, server)
	}
	tc.PortRange.Min = cfg.WebRTC.PortRange.Min
	tc.PortRange.Max = cfg.WebRTC.PortRange.Max
	return tc
}

// Transport creates peer connections backed by pion. It implements
// ports.MediaTransport.
type Transport struct {
	api    *webrtc.API
	rtcCfg webrtc.Configuration
	logger *zap.SugaredLogger
}

// NewTransport builds the shared API object used by every peer connection.
func NewTransport(cfg TransportConfig, logger *zap.SugaredLogger) (*Transport, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}

	return &Transport{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithSettingEngine(settingEngine),
		),
		rtcCfg: webrtc.Configuration{ICEServers: cfg.ICEServers},
		logger: logger,
	}, nil
}

// NewConnection creates one peer connection wired for trickle ICE.
func (t *Transport) NewConnection(_ context.Context) (ports.PeerConnection, error) {
	pc, err := t.api.NewPeerConnection(t.rtcCfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return newPeerConnection(pc, t.logger), nil
}

// NewPlaceholderVideo returns the synthetic video stream that occupies the
// video slot when no real source is active.
func (t *Transport) NewPlaceholderVideo() (ports.VideoStream, error) {
	return newPlaceholderStream()
}
