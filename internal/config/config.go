package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default configuration values (production)
const (
	DefaultDomain   = "meshcall.qzz.io"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultTURN     = "" // Optional, empty by default
	DefaultTURNUser = "meshcall"
	DefaultTURNPass = "meshcall-secret"

	DefaultCaptionHistory     = 6
	DefaultNegotiationTimeout = 30 * time.Second
	DefaultReconnectInitial   = 1 * time.Second
	DefaultReconnectMax       = 5 * time.Second

	DefaultListenAddr        = ":8080"
	DefaultMaxMessageBytes   = 64 * 1024
	DefaultMessagesPerSecond = 50
	DefaultSendQueue         = 256
	DefaultPingInterval      = 54 * time.Second
	DefaultShutdownTimeout   = 15 * time.Second
)

// Client holds the configuration of a call participant.
type Client struct {
	// Domain is the relay host
	Domain string

	// RelayURL is the websocket endpoint, derived from Domain unless set
	RelayURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts ICE to TURN candidates
	ForceRelay bool

	CaptionHistory     int
	NegotiationTimeout time.Duration

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// ClientOptions carries CLI flag overrides for LoadClient.
type ClientOptions struct {
	Domain     string
	RelayURL   string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// CaptionHistory of 0 means unset
	CaptionHistory int
}

// LoadClient reads configuration with the following priority:
// 1. CLI flags (passed via ClientOptions) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func LoadClient(opts ClientOptions) (*Client, error) {
	cfg := &Client{
		Domain:     pick(opts.Domain, "DOMAIN", DefaultDomain),
		STUNServer: pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer: pick(opts.TURNServer, "TURN_SERVER", DefaultTURN),
		TURNUser:   pick(opts.TURNUser, "TURN_USERNAME", DefaultTURNUser),
		TURNPass:   pick(opts.TURNPass, "TURN_PASSWORD", DefaultTURNPass),
	}

	// Construct WebSocket URL unless one was given
	cfg.RelayURL = pick(opts.RelayURL, "RELAY_URL", fmt.Sprintf("wss://%s/ws", cfg.Domain))
	if u, err := url.Parse(cfg.RelayURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, fmt.Errorf("invalid relay url %q: want ws:// or wss://", cfg.RelayURL)
	}

	var err error
	cfg.ForceRelay = opts.ForceRelay
	if !cfg.ForceRelay {
		if cfg.ForceRelay, err = envBool("FORCE_RELAY", false); err != nil {
			return nil, err
		}
	}

	cfg.CaptionHistory = opts.CaptionHistory
	if cfg.CaptionHistory <= 0 {
		if cfg.CaptionHistory, err = envInt("CAPTION_HISTORY", DefaultCaptionHistory); err != nil {
			return nil, err
		}
	}
	if cfg.CaptionHistory <= 0 {
		return nil, fmt.Errorf("CAPTION_HISTORY must be positive, got %d", cfg.CaptionHistory)
	}

	if cfg.NegotiationTimeout, err = envDuration("NEGOTIATION_TIMEOUT", DefaultNegotiationTimeout); err != nil {
		return nil, err
	}
	if cfg.ReconnectInitial, err = envDuration("RECONNECT_INITIAL_DELAY", DefaultReconnectInitial); err != nil {
		return nil, err
	}
	if cfg.ReconnectMax, err = envDuration("RECONNECT_MAX_DELAY", DefaultReconnectMax); err != nil {
		return nil, err
	}
	if cfg.ReconnectMax < cfg.ReconnectInitial {
		cfg.ReconnectMax = cfg.ReconnectInitial
	}

	return cfg, nil
}

// GetRoomLink returns a shareable link for a room ID
func (c *Client) GetRoomLink(roomID string) string {
	return fmt.Sprintf("https://%s/r/%s", c.Domain, url.PathEscape(roomID))
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Client) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Client) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Client) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// Relay holds the configuration of the signaling relay.
type Relay struct {
	ListenAddr     string
	AllowedOrigins []string

	MaxMessageBytes   int64
	MessagesPerSecond float64
	Burst             int
	SendQueue         int
	PingInterval      time.Duration
	ShutdownTimeout   time.Duration
}

// RelayOptions carries CLI flag overrides for LoadRelay.
type RelayOptions struct {
	ListenAddr     string
	AllowedOrigins string
}

// LoadRelay reads the relay configuration: flag > env > default.
func LoadRelay(opts RelayOptions) (*Relay, error) {
	cfg := &Relay{ListenAddr: opts.ListenAddr}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = os.Getenv("LISTEN_ADDR")
	}
	if cfg.ListenAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.ListenAddr = ":" + port
		}
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}

	cfg.AllowedOrigins = splitList(pick(opts.AllowedOrigins, "ALLOWED_ORIGINS", ""))

	maxBytes, err := envInt("MAX_SIGNALING_MESSAGE_BYTES", DefaultMaxMessageBytes)
	if err != nil {
		return nil, err
	}
	cfg.MaxMessageBytes = int64(maxBytes)

	rps, err := envInt("MAX_SIGNALING_MESSAGES_PER_SECOND", DefaultMessagesPerSecond)
	if err != nil {
		return nil, err
	}
	cfg.MessagesPerSecond = float64(rps)
	cfg.Burst = rps * 2

	if cfg.SendQueue, err = envInt("SIGNALING_SEND_QUEUE", DefaultSendQueue); err != nil {
		return nil, err
	}
	if cfg.PingInterval, err = envDuration("SIGNALING_WS_PING_INTERVAL", DefaultPingInterval); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = envDuration("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout); err != nil {
		return nil, err
	}

	if cfg.MaxMessageBytes <= 0 || cfg.SendQueue <= 0 || cfg.PingInterval <= 0 {
		return nil, fmt.Errorf("relay limits must be positive")
	}
	return cfg, nil
}

// pick returns flag, then the environment variable env, then def.
func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return n, nil
}

func envBool(name string, def bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return b, nil
}

// envDuration accepts Go durations ("30s") or bare seconds ("30").
func envDuration(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
