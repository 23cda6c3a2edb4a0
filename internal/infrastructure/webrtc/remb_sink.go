package webrtc

import (
	"sync"

	"playloop/internal/core/domain"

	"github.com/pion/rtcp"
	"go.uber.org/zap"
)

// RTCPWriter is satisfied by *webrtc.PeerConnection.
type RTCPWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

const rtcpQueueSize = 16

// REMBCommandSink maps session commands onto RTCP feedback for a WebRTC
// sender: select_quality becomes a REMB cap at the rung's bitrate and
// recover becomes a picture loss indication.
type REMBCommandSink struct {
	writer RTCPWriter
	logger *zap.SugaredLogger

	ssrcs []uint32
	mu    sync.RWMutex

	queue chan []rtcp.Packet
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func NewREMBCommandSink(writer RTCPWriter, logger *zap.SugaredLogger) *REMBCommandSink {
	s := &REMBCommandSink{
		writer: writer,
		logger: logger,
		queue:  make(chan []rtcp.Packet, rtcpQueueSize),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s
}

// AddSSRC registers a media source the feedback applies to.
func (s *REMBCommandSink) AddSSRC(ssrc uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.ssrcs {
		if existing == ssrc {
			return
		}
	}
	s.ssrcs = append(s.ssrcs, ssrc)
}

func (s *REMBCommandSink) mediaSSRCs() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]uint32, len(s.ssrcs))
	copy(out, s.ssrcs)
	return out
}

func (s *REMBCommandSink) Deliver(cmd domain.Command) {
	pkts := s.packetsFor(cmd)
	if len(pkts) == 0 {
		return
	}

	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.queue <- pkts:
	default:
		s.logger.Warnw("rtcp queue full, dropping feedback",
			"session_id", cmd.SessionID,
			"type", cmd.Type,
		)
	}
}

func (s *REMBCommandSink) packetsFor(cmd domain.Command) []rtcp.Packet {
	ssrcs := s.mediaSSRCs()
	if len(ssrcs) == 0 {
		return nil
	}

	switch cmd.Type {
	case domain.CommandSelectQuality:
		// "auto" lifts the cap; the sender's own estimator takes over.
		if cmd.QualityID == domain.AutoQualityID || cmd.BandwidthBps <= 0 {
			return nil
		}
		return []rtcp.Packet{&rtcp.ReceiverEstimatedMaximumBitrate{
			Bitrate: float32(cmd.BandwidthBps),
			SSRCs:   ssrcs,
		}}

	case domain.CommandRecover:
		pkts := make([]rtcp.Packet, 0, len(ssrcs))
		for _, ssrc := range ssrcs {
			pkts = append(pkts, &rtcp.PictureLossIndication{MediaSSRC: ssrc})
		}
		return pkts
	}
	return nil
}

func (s *REMBCommandSink) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case pkts := <-s.queue:
			if err := s.writer.WriteRTCP(pkts); err != nil {
				s.logger.Warnw("error writing RTCP feedback", "error", err)
			}
		case <-s.done:
			return
		}
	}
}

func (s *REMBCommandSink) Close() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}
