package media

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	opusClockRate = 48000
	vp8ClockRate  = 90000

	audioFrame = 20 * time.Millisecond
	videoFrame = 33 * time.Millisecond
)

// SyntheticProvider generates silent audio and blank video RTP tracks on a
// wall-clock pump. It keeps the full pipeline exercisable on machines with
// no capture hardware; swapping in a real device provider changes nothing
// downstream.
type SyntheticProvider struct{}

func NewSyntheticProvider() *SyntheticProvider { return &SyntheticProvider{} }

func (p *SyntheticProvider) Open(ctx context.Context) (*LocalStream, error) {
	streamID := "proctor-" + uuid.NewString()

	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: vp8ClockRate},
		"video", streamID,
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	stream := &LocalStream{
		Audio:  NewLocalTrack(audio),
		Video:  NewLocalTrack(video),
		cancel: cancel,
	}

	go pump(ctx, stream.Audio, audioFrame, opusSilence(), uint32(opusClockRate/50))
	go pump(ctx, stream.Video, videoFrame, vp8Blank(), uint32(vp8ClockRate/30))

	return stream, nil
}

// pump writes one RTP packet per frame interval, skipping writes while the
// track is muted. Sequence numbers and timestamps advance regardless so a
// resumed track stays continuous.
func pump(ctx context.Context, t *LocalTrack, interval time.Duration, payload []byte, tsStep uint32) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq uint16
	var ts uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if t.stopped() {
			return
		}
		seq++
		ts += tsStep
		if !t.Enabled() {
			continue
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				SequenceNumber: seq,
				Timestamp:      ts,
			},
			Payload: payload,
		}
		if err := t.Track.WriteRTP(pkt); err != nil {
			log.Debug().Err(err).Str("module", "media").Msg("synthetic pump write")
		}
	}
}

// opusSilence is a minimal DTX-style silence frame.
func opusSilence() []byte { return []byte{0xF8, 0xFF, 0xFE} }

// vp8Blank is a single-byte placeholder payload; enough to keep the RTP
// stream flowing for connectivity purposes.
func vp8Blank() []byte { return []byte{0x10, 0x00} }
