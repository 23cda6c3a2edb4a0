package webrtc

import (
	"context"
	"errors"
	"io"
	"time"

	"playloop/internal/core/domain"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"go.uber.org/zap"
)

// RTPReader is satisfied by *webrtc.TrackRemote.
type RTPReader interface {
	Read(b []byte) (int, interceptor.Attributes, error)
}

// TransferSink receives throughput observations; *services.PlaybackSession
// satisfies it.
type TransferSink interface {
	ObserveTransfer(obs domain.TransferObservation) error
}

const (
	mtu = 1500
	// Tracks that never set the marker bit (audio) are flushed at this size.
	defaultFlushBytes = 64 * 1024
)

// TrackTransferFeed turns RTP packets read from a track into transfer
// observations. Payload bytes are accumulated per frame and reported when
// the marker bit closes the frame.
type TrackTransferFeed struct {
	reader     RTPReader
	sink       TransferSink
	flushBytes int64
	now        func() time.Time
	logger     *zap.SugaredLogger

	pending int64
	packets uint64
}

func NewTrackTransferFeed(reader RTPReader, sink TransferSink, logger *zap.SugaredLogger) *TrackTransferFeed {
	return &TrackTransferFeed{
		reader:     reader,
		sink:       sink,
		flushBytes: defaultFlushBytes,
		now:        time.Now,
		logger:     logger,
	}
}

// Run reads until the track ends, ctx is done or the sink rejects an
// observation. A track ending with io.EOF is not an error.
func (f *TrackTransferFeed) Run(ctx context.Context) error {
	buf := make([]byte, mtu)
	packet := &rtp.Packet{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, _, err := f.reader.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return f.flush()
			}
			return err
		}

		if err := packet.Unmarshal(buf[:n]); err != nil {
			f.logger.Debugw("error unmarshaling RTP packet", "error", err)
			continue
		}

		f.packets++
		f.pending += int64(len(packet.Payload))

		if packet.Marker || f.pending >= f.flushBytes {
			if err := f.flush(); err != nil {
				return err
			}
		}
	}
}

func (f *TrackTransferFeed) flush() error {
	if f.pending == 0 {
		return nil
	}
	obs := domain.TransferObservation{
		Bytes:     f.pending,
		Timestamp: f.now(),
		Kind:      domain.ResourceSegment,
	}
	f.pending = 0
	return f.sink.ObserveTransfer(obs)
}

// Packets returns the number of RTP packets parsed so far.
func (f *TrackTransferFeed) Packets() uint64 {
	return f.packets
}
