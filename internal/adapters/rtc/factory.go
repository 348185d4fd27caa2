package rtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/VoiceDesk/internal/core"
	"github.com/dkeye/VoiceDesk/internal/domain"
)

const DefaultSTUN = "stun:stun.l.google.com:19302"

type Config struct {
	ICEServers []string
	// ICE timeouts, see webrtc.SettingEngine.SetICETimeouts.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		ICEServers:          []string{DefaultSTUN},
		DisconnectedTimeout: 30 * time.Second,
		FailedTimeout:       60 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

// Factory builds one PeerConnection per call session.
type Factory struct {
	cfg      Config
	capturer Capturer
}

var _ core.MediaFactory = (*Factory)(nil)

func NewFactory(cfg Config, capturer Capturer) *Factory {
	def := DefaultConfig()
	if cfg.DisconnectedTimeout <= 0 {
		cfg.DisconnectedTimeout = def.DisconnectedTimeout
	}
	if cfg.FailedTimeout <= 0 {
		cfg.FailedTimeout = def.FailedTimeout
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = def.KeepAliveInterval
	}
	if capturer == nil {
		capturer = SilenceCapturer{}
	}
	return &Factory{cfg: cfg, capturer: capturer}
}

func (f *Factory) NewMedia(sid domain.SessionID) (core.MediaCapability, error) {
	api, err := f.api()
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(f.configuration())
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newConnection(pc, sid, f.capturer), nil
}

func (f *Factory) api() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := f.capturer.RegisterCodecs(mediaEngine); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(f.cfg.DisconnectedTimeout, f.cfg.FailedTimeout, f.cfg.KeepAliveInterval)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	), nil
}

func (f *Factory) configuration() webrtc.Configuration {
	var servers []webrtc.ICEServer
	if len(f.cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: f.cfg.ICEServers}}
	}
	return webrtc.Configuration{ICEServers: servers}
}
