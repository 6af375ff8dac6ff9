package peerlink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/logging"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/protocol"
)

// ControlLabel is the label of the negotiated per-link control channel.
const ControlLabel = "control"

// PionConfig configures pion-backed transports.
type PionConfig struct {
	ICEServers []webrtc.ICEServer
	ForceRelay bool

	// SettingEngine, when set, is used as the base engine (tests use it to
	// put peers on a virtual network).
	SettingEngine *webrtc.SettingEngine

	Logger *slog.Logger
}

// PionConfigFrom builds ICE settings from the client configuration. Relay-only
// ICE is used when asked for, or when the host looks like it sits behind a
// VPN or carrier NAT and a TURN server is available.
func PionConfigFrom(cfg *config.Client, logger *slog.Logger) PionConfig {
	var servers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}

	turn := cfg.GetTURNServers()
	if turn != nil {
		username, password := cfg.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}

	return PionConfig{
		ICEServers: servers,
		ForceRelay: turn != nil && (cfg.ForceRelay || ShouldForceRelay()),
		Logger:     logger,
	}
}

// NewPionFactory returns a TransportFactory producing pion peer connections
// with one sendrecv audio and video transceiver each, plus the control
// channel.
func NewPionFactory(cfg PionConfig) (TransportFactory, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.SettingEngine != nil {
		se = *cfg.SettingEngine
	}
	se.LoggerFactory = logging.PionFactory{Logger: cfg.Logger}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)

	policy := webrtc.ICETransportPolicyAll
	if cfg.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}
	pcConfig := webrtc.Configuration{
		ICEServers:         cfg.ICEServers,
		ICETransportPolicy: policy,
	}

	return func(localID, remoteID string, h Handler) (Transport, error) {
		return newPionTransport(api, pcConfig, h, cfg.Logger.With("remote", remoteID))
	}, nil
}

type pionTransport struct {
	pc      *webrtc.PeerConnection
	control *webrtc.DataChannel
	senders map[media.Kind]*webrtc.RTPSender
	h       Handler
	logger  *slog.Logger
}

func newPionTransport(api *webrtc.API, cfg webrtc.Configuration, h Handler, logger *slog.Logger) (*pionTransport, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	t := &pionTransport{
		pc:      pc,
		senders: make(map[media.Kind]*webrtc.RTPSender),
		h:       h,
		logger:  logger,
	}

	for _, kind := range media.Kinds {
		tr, err := pc.AddTransceiverFromKind(kind.CodecType(), webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
		t.senders[kind] = tr.Sender()
		go drainRTCP(tr.Sender())
	}

	negotiated := true
	id := uint16(0)
	dc, err := pc.CreateDataChannel(ControlLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create control channel: %w", err)
	}
	t.control = dc
	dc.OnOpen(h.ControlOpen)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		h.Control(msg.Data)
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		h.LocalCandidate(candidateFromPion(c.ToJSON()))
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			h.ConnectionState(ConnConnected)
		case webrtc.PeerConnectionStateDisconnected:
			h.ConnectionState(ConnDisconnected)
		case webrtc.PeerConnectionStateFailed:
			h.ConnectionState(ConnFailed)
		case webrtc.PeerConnectionStateClosed:
			h.ConnectionState(ConnClosed)
		case webrtc.PeerConnectionStateConnecting:
			h.ConnectionState(ConnConnecting)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Debug("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		go t.readTrack(track)
	})

	return t, nil
}

// readTrack feeds the link's inbound accounting until the link stops
// accepting or the track ends.
func (t *pionTransport) readTrack(track *webrtc.TrackRemote) {
	kind := media.KindOf(track.Kind())
	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		if !t.h.Media(kind, n) {
			return
		}
	}
}

// drainRTCP reads incoming RTCP so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *pionTransport) CreateOffer(ctx context.Context) (protocol.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return protocol.SessionDescription{}, err
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return descriptionFromPion(*t.pc.LocalDescription()), nil
}

func (t *pionTransport) CreateAnswer(ctx context.Context) (protocol.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return protocol.SessionDescription{}, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return descriptionFromPion(*t.pc.LocalDescription()), nil
}

func (t *pionTransport) SetRemoteDescription(desc protocol.SessionDescription) error {
	sdpType := webrtc.NewSDPType(desc.Type)
	if sdpType != webrtc.SDPTypeOffer && sdpType != webrtc.SDPTypeAnswer {
		return fmt.Errorf("unexpected description type %q", desc.Type)
	}
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP})
}

func (t *pionTransport) AddICECandidate(c protocol.Candidate) error {
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

// Bind swaps the outgoing track for kind in place. ReplaceTrack never
// triggers renegotiation.
func (t *pionTransport) Bind(kind media.Kind, track webrtc.TrackLocal) error {
	sender, ok := t.senders[kind]
	if !ok {
		return fmt.Errorf("no %s sender", kind)
	}
	return sender.ReplaceTrack(track)
}

func (t *pionTransport) SendControl(data []byte) error {
	if t.control.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrControlNotOpen
	}
	return t.control.Send(data)
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}

func descriptionFromPion(d webrtc.SessionDescription) protocol.SessionDescription {
	return protocol.SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func candidateFromPion(c webrtc.ICECandidateInit) protocol.Candidate {
	return protocol.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
