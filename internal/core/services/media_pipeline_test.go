package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"voicelink/internal/core/domain"
	"voicelink/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineEventLog struct {
	mu        sync.Mutex
	swaps     []domain.VideoSource
	swapIDs   []string
	replaced  []string
	attached  []string
	detached  []string
	muteState []bool
}

func (l *pipelineEventLog) events() PipelineEvents {
	return PipelineEvents{
		VideoSwapped: func(track ports.LocalTrack, source domain.VideoSource) {
			l.mu.Lock()
			l.swaps = append(l.swaps, source)
			l.swapIDs = append(l.swapIDs, track.ID())
			l.mu.Unlock()
		},
		AudioReplaced: func(oldTrackID string, track ports.LocalTrack) {
			l.mu.Lock()
			l.replaced = append(l.replaced, oldTrackID+"->"+track.ID())
			l.mu.Unlock()
		},
		AudioAttached: func(track ports.LocalTrack) {
			l.mu.Lock()
			l.attached = append(l.attached, track.ID())
			l.mu.Unlock()
		},
		AudioDetached: func(trackID string) {
			l.mu.Lock()
			l.detached = append(l.detached, trackID)
			l.mu.Unlock()
		},
		MuteChanged: func(muted bool) {
			l.mu.Lock()
			l.muteState = append(l.muteState, muted)
			l.mu.Unlock()
		},
	}
}

func newTestPipeline(t *testing.T, provider *fakeProvider, suppressor ports.NoiseSuppressor) (*LocalMediaPipeline, *pipelineEventLog) {
	t.Helper()
	if provider.devices == nil {
		provider.devices = testDevices()
	}
	prefs := newFakePrefs()
	registry := newTestRegistry(provider, prefs, DefaultDevicesConfig())
	detector := NewSpeakingDetector(vadConfig(), nil, testLogger())
	log := &pipelineEventLog{}
	p := NewLocalMediaPipeline(
		provider,
		&fakeTransport{},
		suppressor,
		registry,
		detector,
		log.events(),
		MediaConfig{
			Detection:   vadConfig(),
			Suppression: ports.SuppressionConfig{Method: "gate", Intensity: 0.7},
		},
		testLogger(),
	)
	t.Cleanup(p.ReleaseAll)
	return p, log
}

func trackIDs(tracks []ports.LocalTrack) []string {
	ids := make([]string, len(tracks))
	for i, tr := range tracks {
		ids[i] = tr.ID()
	}
	return ids
}

func TestAcquireAudioUsesBestDevice(t *testing.T) {
	provider := &fakeProvider{}
	p, _ := newTestPipeline(t, provider, &fakeSuppressor{})

	require.NoError(t, p.AcquireAudio(context.Background(), ""))

	state := p.State()
	assert.Equal(t, domain.DeviceID("mic-builtin"), state.AudioDevice)
	assert.Equal(t, domain.VideoPlaceholder, state.VideoSource)

	ids := trackIDs(p.CurrentTracks())
	assert.Contains(t, ids, "mic-mic-builtin")
	assert.Contains(t, ids, "placeholder-video")
}

func TestAcquireAudioMapsDeviceErrors(t *testing.T) {
	provider := &fakeProvider{openAudioErr: domain.ErrPermissionDenied}
	p, _ := newTestPipeline(t, provider, &fakeSuppressor{})

	err := p.AcquireAudio(context.Background(), "mic-usb")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestSuppressionFailureFallsBackToRawStream(t *testing.T) {
	provider := &fakeProvider{}
	p, _ := newTestPipeline(t, provider, &fakeSuppressor{initErr: errors.New("model load failed")})

	require.NoError(t, p.AcquireAudio(context.Background(), "mic-usb"))

	ids := trackIDs(p.CurrentTracks())
	assert.Contains(t, ids, "mic-mic-usb")
}

func TestCameraToggleSwapsVideoSlot(t *testing.T) {
	provider := &fakeProvider{}
	p, log := newTestPipeline(t, provider, &fakeSuppressor{})
	require.NoError(t, p.AcquireAudio(context.Background(), ""))

	require.NoError(t, p.EnableCamera(context.Background(), "cam-1"))
	assert.Equal(t, domain.VideoCamera, p.State().VideoSource)

	p.DisableCamera()
	assert.Equal(t, domain.VideoPlaceholder, p.State().VideoSource)

	log.mu.Lock()
	defer log.mu.Unlock()
	require.Equal(t, []domain.VideoSource{domain.VideoCamera, domain.VideoPlaceholder}, log.swaps)
	assert.Equal(t, []string{"camera-cam-1", "placeholder-video"}, log.swapIDs)
	// Video swaps never attach or detach audio.
	assert.Empty(t, log.attached)
	assert.Empty(t, log.detached)
}

func TestVideoSlotAlwaysSingleOccupant(t *testing.T) {
	provider := &fakeProvider{}
	p, _ := newTestPipeline(t, provider, &fakeSuppressor{})
	require.NoError(t, p.AcquireAudio(context.Background(), ""))

	require.NoError(t, p.EnableCamera(context.Background(), "cam-1"))

	videoCount := 0
	for _, track := range p.CurrentTracks() {
		if track.Kind() == domain.TrackVideo {
			videoCount++
		}
	}
	assert.Equal(t, 1, videoCount)
}

func TestCameraAndScreenShareMutuallyExclusive(t *testing.T) {
	provider := &fakeProvider{}
	p, _ := newTestPipeline(t, provider, &fakeSuppressor{})
	require.NoError(t, p.AcquireAudio(context.Background(), ""))

	require.NoError(t, p.EnableCamera(context.Background(), "cam-1"))
	require.NoError(t, p.EnableScreenShare(context.Background(), false))

	assert.Equal(t, domain.VideoScreen, p.State().VideoSource)
	provider.mu.Lock()
	camera := provider.cameras[0]
	provider.mu.Unlock()
	assert.True(t, camera.isClosed(), "enabling screen share must close the camera")

	require.NoError(t, p.EnableCamera(context.Background(), "cam-1"))
	assert.Equal(t, domain.VideoCamera, p.State().VideoSource)
	provider.mu.Lock()
	screen := provider.screens[0]
	provider.mu.Unlock()
	assert.True(t, screen.isClosed(), "enabling the camera must close screen capture")
}

func TestScreenShareAudioAttachAndDetach(t *testing.T) {
	provider := &fakeProvider{}
	p, log := newTestPipeline(t, provider, &fakeSuppressor{})
	require.NoError(t, p.AcquireAudio(context.Background(), ""))

	require.NoError(t, p.EnableScreenShare(context.Background(), true))
	assert.True(t, p.State().ScreenAudio)

	p.DisableScreenShare()
	assert.False(t, p.State().ScreenAudio)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, []string{"screen-audio"}, log.attached)
	assert.Equal(t, []string{"screen-audio"}, log.detached)
}

func TestMuteGatesAudioWithoutDetaching(t *testing.T) {
	provider := &fakeProvider{}
	p, log := newTestPipeline(t, provider, &fakeSuppressor{})
	require.NoError(t, p.AcquireAudio(context.Background(), ""))
	stream := provider.lastAudio()

	p.SetMuted(true)
	assert.False(t, stream.isEnabled())
	assert.Len(t, p.CurrentTracks(), 2, "muting must keep the track attached")

	p.SetMuted(false)
	assert.True(t, stream.isEnabled())

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, []bool{true, false}, log.muteState)
}

func TestDeafenImpliesMuteAndRestores(t *testing.T) {
	provider := &fakeProvider{}
	p, log := newTestPipeline(t, provider, &fakeSuppressor{})
	require.NoError(t, p.AcquireAudio(context.Background(), ""))

	// Unmuted before deafen: un-deafen restores unmuted.
	p.SetDeafened(true)
	state := p.State()
	assert.True(t, state.Deafened)
	assert.True(t, state.Muted)

	p.SetDeafened(false)
	state = p.State()
	assert.False(t, state.Deafened)
	assert.False(t, state.Muted)

	// Muted before deafen: un-deafen keeps the mute.
	p.SetMuted(true)
	p.SetDeafened(true)
	p.SetDeafened(false)
	assert.True(t, p.State().Muted)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, []bool{true, false, true, true, true}, log.muteState)
}

func TestSwitchAudioDeviceReplacesTrackInPlace(t *testing.T) {
	provider := &fakeProvider{}
	p, log := newTestPipeline(t, provider, &fakeSuppressor{})
	require.NoError(t, p.AcquireAudio(context.Background(), "mic-builtin"))
	old := provider.lastAudio()

	require.NoError(t, p.SwitchAudioDevice(context.Background(), "mic-usb"))

	assert.True(t, old.isClosed())
	assert.Equal(t, domain.DeviceID("mic-usb"), p.State().AudioDevice)

	log.mu.Lock()
	defer log.mu.Unlock()
	require.Len(t, log.replaced, 1)
	assert.Equal(t, "mic-mic-builtin->mic-mic-usb", log.replaced[0])
}

func TestSwitchPreservesMuteState(t *testing.T) {
	provider := &fakeProvider{}
	p, _ := newTestPipeline(t, provider, &fakeSuppressor{})
	require.NoError(t, p.AcquireAudio(context.Background(), "mic-builtin"))

	p.SetMuted(true)
	require.NoError(t, p.SwitchAudioDevice(context.Background(), "mic-usb"))

	assert.False(t, provider.lastAudio().isEnabled())
}

func TestApplyVideoRungReachesActiveCapture(t *testing.T) {
	provider := &fakeProvider{}
	p, _ := newTestPipeline(t, provider, &fakeSuppressor{})
	require.NoError(t, p.AcquireAudio(context.Background(), ""))

	rung := domain.VideoLadder()[0]

	// Placeholder ignores constraints; the rung still sticks for later.
	require.NoError(t, p.ApplyVideoRung(rung))
	assert.Equal(t, rung, p.State().CurrentRung)

	require.NoError(t, p.EnableCamera(context.Background(), "cam-1"))
	higher := domain.VideoLadder()[2]
	require.NoError(t, p.ApplyVideoRung(higher))

	provider.mu.Lock()
	camera := provider.cameras[0]
	provider.mu.Unlock()
	applied := camera.appliedRungs()
	require.Len(t, applied, 1)
	assert.Equal(t, higher, applied[0])
}

func TestReleaseAllClosesEverything(t *testing.T) {
	provider := &fakeProvider{}
	p, _ := newTestPipeline(t, provider, &fakeSuppressor{})
	require.NoError(t, p.AcquireAudio(context.Background(), ""))
	require.NoError(t, p.EnableScreenShare(context.Background(), true))
	mic := provider.audioStreams[0]

	p.ReleaseAll()

	assert.True(t, mic.isClosed())
	assert.Empty(t, p.CurrentTracks())
	assert.Equal(t, domain.VideoPlaceholder, p.State().VideoSource)
}
