package webrtc

import (
	"context"
	"fmt"
	"sync"

	"playloop/internal/core/domain"
	"playloop/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type Config struct {
	ICEServers []webrtc.ICEServer
	PortMin    uint16
	PortMax    uint16
}

// CommandAttacher routes a session's commands to a per-session sink.
type CommandAttacher interface {
	Attach(sessionID domain.SessionID, sink ports.CommandSink)
	Detach(sessionID domain.SessionID)
}

type peer struct {
	pc     *webrtc.PeerConnection
	sink   *REMBCommandSink
	cancel context.CancelFunc
}

// Gateway accepts WebRTC media for a session. Received RTP feeds the
// session's bandwidth estimator and the session's commands flow back to the
// sender as RTCP feedback.
type Gateway struct {
	cfg    Config
	router CommandAttacher
	peers  map[domain.SessionID]*peer
	mu     sync.Mutex
	logger *zap.SugaredLogger
}

func NewGateway(cfg Config, router CommandAttacher, logger *zap.SugaredLogger) *Gateway {
	return &Gateway{
		cfg:    cfg,
		router: router,
		peers:  make(map[domain.SessionID]*peer),
		logger: logger,
	}
}

func (g *Gateway) createPeerConnection() (*webrtc.PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if g.cfg.PortMin > 0 && g.cfg.PortMax > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(g.cfg.PortMin, g.cfg.PortMax); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	)
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: g.cfg.ICEServers})
}

// Negotiate answers a sender's offer for session and returns the local
// description once ICE gathering completes. An existing connection for the
// session is replaced.
func (g *Gateway) Negotiate(ctx context.Context, session ports.PlaybackSession, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	pc, err := g.createPeerConnection()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create peer connection: %w", err)
	}

	sessionID := session.ID()
	feedCtx, cancel := context.WithCancel(context.Background())
	p := &peer{
		pc:     pc,
		sink:   NewREMBCommandSink(pc, g.logger),
		cancel: cancel,
	}

	pc.OnTrack(g.handleTrack(feedCtx, session, p.sink))
	pc.OnConnectionStateChange(g.handleConnectionState(session))

	if err := pc.SetRemoteDescription(offer); err != nil {
		g.closePeer(p)
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		g.closePeer(p)
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		g.closePeer(p)
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		g.closePeer(p)
		return webrtc.SessionDescription{}, ctx.Err()
	}

	g.mu.Lock()
	old := g.peers[sessionID]
	g.peers[sessionID] = p
	g.mu.Unlock()

	if old != nil {
		g.closePeer(old)
		g.router.Detach(sessionID)
	}
	g.router.Attach(sessionID, p.sink)

	g.logger.Infow("webrtc media attached", "session_id", sessionID, "replaced", old != nil)

	return *pc.LocalDescription(), nil
}

func (g *Gateway) handleTrack(ctx context.Context, session ports.PlaybackSession, sink *REMBCommandSink) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		g.logger.Infow("receiving track",
			"session_id", session.ID(),
			"track_id", track.ID(),
			"codec", track.Codec().MimeType,
			"ssrc", track.SSRC(),
		)

		sink.AddSSRC(uint32(track.SSRC()))

		// Interceptors only see RTCP that is read.
		go func() {
			for {
				if _, _, err := receiver.ReadRTCP(); err != nil {
					return
				}
			}
		}()

		go func() {
			feed := NewTrackTransferFeed(track, session, g.logger)
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				g.logger.Warnw("track feed stopped",
					"session_id", session.ID(),
					"track_id", track.ID(),
					"packets", feed.Packets(),
					"error", err,
				)
			}
		}()
	}
}

func (g *Gateway) handleConnectionState(session ports.PlaybackSession) func(webrtc.PeerConnectionState) {
	return func(state webrtc.PeerConnectionState) {
		g.logger.Infow("peer connection state changed",
			"session_id", session.ID(),
			"connection_state", state.String(),
		)

		if state == webrtc.PeerConnectionStateFailed {
			go func() {
				if err := session.ReportError(context.Background(), "webrtc connection failed"); err != nil {
					g.logger.Debugw("recovery not started", "session_id", session.ID(), "error", err)
				}
			}()
		}
	}
}

// Close tears down the session's connection, if any.
func (g *Gateway) Close(sessionID domain.SessionID) {
	g.mu.Lock()
	p, ok := g.peers[sessionID]
	delete(g.peers, sessionID)
	g.mu.Unlock()

	if !ok {
		return
	}
	g.router.Detach(sessionID)
	g.closePeer(p)
}

func (g *Gateway) CloseAll() {
	g.mu.Lock()
	peers := g.peers
	g.peers = make(map[domain.SessionID]*peer)
	g.mu.Unlock()

	for id, p := range peers {
		g.router.Detach(id)
		g.closePeer(p)
	}
}

func (g *Gateway) closePeer(p *peer) {
	p.cancel()
	p.sink.Close()
	if err := p.pc.Close(); err != nil {
		g.logger.Debugw("error closing peer connection", "error", err)
	}
}

func (g *Gateway) Connected(sessionID domain.SessionID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.peers[sessionID]
	return ok
}
