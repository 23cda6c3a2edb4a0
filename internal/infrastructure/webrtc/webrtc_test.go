package webrtc

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"playloop/internal/core/domain"
	"playloop/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type packetReader struct {
	packets [][]byte
	err     error
}

func (r *packetReader) Read(b []byte) (int, interceptor.Attributes, error) {
	if len(r.packets) == 0 {
		if r.err != nil {
			return 0, nil, r.err
		}
		return 0, nil, io.EOF
	}
	n := copy(b, r.packets[0])
	r.packets = r.packets[1:]
	return n, nil, nil
}

func rtpPacket(t *testing.T, seq uint16, payload int, marker bool) []byte {
	t.Helper()
	p := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			SSRC:           1234,
			Marker:         marker,
		},
		Payload: make([]byte, payload),
	}
	raw, err := p.Marshal()
	require.NoError(t, err)
	return raw
}

type transferRecorder struct {
	mu  sync.Mutex
	obs []domain.TransferObservation
	err error
}

func (r *transferRecorder) ObserveTransfer(obs domain.TransferObservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, obs)
	return r.err
}

func TestTrackTransferFeed_FramesOnMarker(t *testing.T) {
	reader := &packetReader{packets: [][]byte{
		rtpPacket(t, 1, 1000, false),
		rtpPacket(t, 2, 1000, false),
		rtpPacket(t, 3, 500, true),
		rtpPacket(t, 4, 800, true),
		rtpPacket(t, 5, 300, false),
	}}
	sink := &transferRecorder{}
	feed := NewTrackTransferFeed(reader, sink, zap.NewNop().Sugar())

	require.NoError(t, feed.Run(context.Background()))

	require.Len(t, sink.obs, 3)
	assert.Equal(t, int64(2500), sink.obs[0].Bytes)
	assert.Equal(t, int64(800), sink.obs[1].Bytes)
	assert.Equal(t, int64(300), sink.obs[2].Bytes, "trailing partial frame flushed at end of track")
	for _, o := range sink.obs {
		assert.Equal(t, domain.ResourceSegment, o.Kind)
	}
	assert.Equal(t, uint64(5), feed.Packets())
}

func TestTrackTransferFeed_FlushesLargeUnmarkedRuns(t *testing.T) {
	var packets [][]byte
	for i := 0; i < 60; i++ {
		packets = append(packets, rtpPacket(t, uint16(i), 1200, false))
	}
	sink := &transferRecorder{}
	feed := NewTrackTransferFeed(&packetReader{packets: packets}, sink, zap.NewNop().Sugar())

	require.NoError(t, feed.Run(context.Background()))

	var total int64
	for _, o := range sink.obs {
		total += o.Bytes
	}
	assert.Greater(t, len(sink.obs), 1)
	assert.Equal(t, int64(60*1200), total)
}

func TestTrackTransferFeed_SkipsGarbageAndStopsOnError(t *testing.T) {
	readErr := errors.New("track closed")
	reader := &packetReader{
		packets: [][]byte{{0x01}, rtpPacket(t, 1, 100, true)},
		err:     readErr,
	}
	sink := &transferRecorder{}
	feed := NewTrackTransferFeed(reader, sink, zap.NewNop().Sugar())

	err := feed.Run(context.Background())
	assert.ErrorIs(t, err, readErr)
	require.Len(t, sink.obs, 1)
	assert.Equal(t, int64(100), sink.obs[0].Bytes)
}

func TestTrackTransferFeed_SinkErrorStops(t *testing.T) {
	sinkErr := errors.New("session closed")
	reader := &packetReader{packets: [][]byte{rtpPacket(t, 1, 100, true), rtpPacket(t, 2, 100, true)}}
	sink := &transferRecorder{err: sinkErr}

	err := NewTrackTransferFeed(reader, sink, zap.NewNop().Sugar()).Run(context.Background())
	assert.ErrorIs(t, err, sinkErr)
	assert.Len(t, sink.obs, 1)
}

type rtcpRecorder struct {
	mu      sync.Mutex
	batches [][]rtcp.Packet
}

func (r *rtcpRecorder) WriteRTCP(pkts []rtcp.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, pkts)
	return nil
}

func (r *rtcpRecorder) all() [][]rtcp.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]rtcp.Packet(nil), r.batches...)
}

func TestREMBCommandSink(t *testing.T) {
	writer := &rtcpRecorder{}
	sink := NewREMBCommandSink(writer, zap.NewNop().Sugar())
	defer sink.Close()

	sink.Deliver(domain.Command{Type: domain.CommandSelectQuality, QualityID: "720p", BandwidthBps: 3_000_000})
	assert.Empty(t, writer.all(), "no feedback before a track is known")

	sink.AddSSRC(1234)
	sink.AddSSRC(1234)
	sink.AddSSRC(5678)

	sink.Deliver(domain.Command{Type: domain.CommandSelectQuality, QualityID: "720p", BandwidthBps: 3_000_000})
	sink.Deliver(domain.Command{Type: domain.CommandSelectQuality, QualityID: domain.AutoQualityID})
	sink.Deliver(domain.Command{Type: domain.CommandRecover, AttemptID: "a1"})

	require.Eventually(t, func() bool { return len(writer.all()) == 2 }, time.Second, 5*time.Millisecond)

	batches := writer.all()
	require.Len(t, batches[0], 1)
	remb, ok := batches[0][0].(*rtcp.ReceiverEstimatedMaximumBitrate)
	require.True(t, ok)
	assert.Equal(t, float32(3_000_000), remb.Bitrate)
	assert.Equal(t, []uint32{1234, 5678}, remb.SSRCs)

	require.Len(t, batches[1], 2)
	pli, ok := batches[1][0].(*rtcp.PictureLossIndication)
	require.True(t, ok)
	assert.Equal(t, uint32(1234), pli.MediaSSRC)
}

func TestREMBCommandSink_DeliverAfterCloseIsIgnored(t *testing.T) {
	writer := &rtcpRecorder{}
	sink := NewREMBCommandSink(writer, zap.NewNop().Sugar())
	sink.AddSSRC(1)
	sink.Close()
	sink.Close()

	sink.Deliver(domain.Command{Type: domain.CommandRecover})
	assert.Empty(t, writer.all())
}

type attachRecorder struct {
	mu       sync.Mutex
	attached map[domain.SessionID]int
}

func (a *attachRecorder) Attach(id domain.SessionID, _ ports.CommandSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.attached == nil {
		a.attached = make(map[domain.SessionID]int)
	}
	a.attached[id]++
}

func (a *attachRecorder) Detach(id domain.SessionID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.attached, id)
}

func (a *attachRecorder) count(id domain.SessionID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attached[id]
}

type gatewaySession struct {
	ports.PlaybackSession
	transfers transferRecorder
}

func (s *gatewaySession) ID() domain.SessionID { return "s1" }

func (s *gatewaySession) ObserveTransfer(obs domain.TransferObservation) error {
	return s.transfers.ObserveTransfer(obs)
}

func (s *gatewaySession) ReportError(context.Context, string) error { return nil }

func TestGateway_NegotiateAndClose(t *testing.T) {
	offerer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer offerer.Close()

	_, err = offerer.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	require.NoError(t, err)

	offer, err := offerer.CreateOffer(nil)
	require.NoError(t, err)
	gathered := webrtc.GatheringCompletePromise(offerer)
	require.NoError(t, offerer.SetLocalDescription(offer))
	<-gathered

	router := &attachRecorder{}
	gw := NewGateway(Config{}, router, zap.NewNop().Sugar())
	session := &gatewaySession{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	answer, err := gw.Negotiate(ctx, session, *offerer.LocalDescription())
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.NotEmpty(t, answer.SDP)
	assert.True(t, gw.Connected("s1"))
	assert.Equal(t, 1, router.count("s1"))

	gw.Close("s1")
	assert.False(t, gw.Connected("s1"))
	assert.Equal(t, 0, router.count("s1"))
}

func TestGateway_RejectsBadOffer(t *testing.T) {
	gw := NewGateway(Config{}, &attachRecorder{}, zap.NewNop().Sugar())

	_, err := gw.Negotiate(context.Background(), &gatewaySession{}, webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  "not sdp",
	})
	assert.Error(t, err)
	assert.False(t, gw.Connected("s1"))
}
