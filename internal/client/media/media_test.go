package media_test

import (
	"context"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odewan/examlink/internal/client/media"
)

type fakeProvider struct {
	opens int
	errs  []error
}

func (f *fakeProvider) Open(_ context.Context) (*media.LocalStream, error) {
	f.opens++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "fake-stream",
	)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "fake-stream",
	)
	if err != nil {
		return nil, err
	}
	return &media.LocalStream{
		Audio: media.NewLocalTrack(audio),
		Video: media.NewLocalTrack(video),
	}, nil
}

func TestAcquireIdempotent(t *testing.T) {
	provider := &fakeProvider{}
	m := media.NewManager(provider)

	first, err := m.Acquire(context.Background())
	require.NoError(t, err)
	second, err := m.Acquire(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second, "second acquire must return the identical stream")
	assert.Equal(t, 1, provider.opens, "devices must be opened exactly once")
}

func TestAcquireErrorTaxonomy(t *testing.T) {
	testCases := []struct {
		name string
		err  error
	}{
		{"permission denied", media.ErrPermissionDenied},
		{"device not found", media.ErrDeviceNotFound},
		{"device busy", media.ErrDeviceBusy},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := media.NewManager(&fakeProvider{errs: []error{tc.err}})
			_, err := m.Acquire(context.Background())
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

// Permission denied, the user grants access, the retry succeeds without a
// fresh manager.
func TestAcquireDeniedThenGranted(t *testing.T) {
	provider := &fakeProvider{errs: []error{media.ErrPermissionDenied}}
	m := media.NewManager(provider)

	_, err := m.Acquire(context.Background())
	require.ErrorIs(t, err, media.ErrPermissionDenied)

	stream, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, stream)
	assert.Equal(t, 2, provider.opens)
}

func TestToggleTracks(t *testing.T) {
	m := media.NewManager(&fakeProvider{})
	stream, err := m.Acquire(context.Background())
	require.NoError(t, err)

	assert.True(t, stream.AudioEnabled())
	assert.True(t, stream.VideoEnabled())

	stream.SetAudioEnabled(false)
	assert.False(t, stream.AudioEnabled())
	assert.True(t, stream.VideoEnabled(), "audio mute must not touch video")

	stream.SetAudioEnabled(true)
	assert.True(t, stream.AudioEnabled())

	stream.SetVideoEnabled(false)
	assert.False(t, stream.VideoEnabled())
}

func TestReleaseThenReacquire(t *testing.T) {
	provider := &fakeProvider{}
	m := media.NewManager(provider)

	first, err := m.Acquire(context.Background())
	require.NoError(t, err)
	m.Release()
	assert.Nil(t, m.Held())
	assert.False(t, first.Live())

	second, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, provider.opens)
}

func TestSyntheticProviderOpens(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := media.NewManager(nil)
	stream, err := m.Acquire(ctx)
	require.NoError(t, err)
	assert.Len(t, stream.Tracks(), 2)
	m.Release()
}
