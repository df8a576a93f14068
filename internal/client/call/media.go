package call

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

// Opus pages are written on a fixed cadence.
const oggPageDuration = 20 * time.Millisecond

// MediaSource feeds local audio (Ogg/Opus) and video (IVF/VP8) sample files
// into pion tracks, looping at EOF. Mute and camera-off suppress sample
// writes; nothing is signaled, peers simply observe the track going silent.
type MediaSource struct {
	audioPath string
	videoPath string
	audio     *webrtc.TrackLocalStaticSample
	video     *webrtc.TrackLocalStaticSample

	muted     atomic.Bool
	cameraOff atomic.Bool

	quit      chan struct{}
	closeOnce sync.Once
}

// OpenMediaSource validates the sample inputs and creates the local tracks.
// Failure here is the media-acquisition fatal case: it happens before any
// signaling channel is opened.
func OpenMediaSource(audioPath, videoPath string) (*MediaSource, error) {
	if audioPath == "" && videoPath == "" {
		return nil, errors.New("no media inputs: need at least one of audio, video")
	}

	m := &MediaSource{
		audioPath: audioPath,
		videoPath: videoPath,
		quit:      make(chan struct{}),
	}

	if audioPath != "" {
		if err := probeFile(audioPath); err != nil {
			return nil, fmt.Errorf("audio source: %w", err)
		}
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "callbridge")
		if err != nil {
			return nil, err
		}
		m.audio = track
	}

	if videoPath != "" {
		if err := probeFile(videoPath); err != nil {
			return nil, fmt.Errorf("video source: %w", err)
		}
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "callbridge")
		if err != nil {
			return nil, err
		}
		m.video = track
	}

	return m, nil
}

func probeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// Tracks returns the local tracks to attach to every peer connection.
func (m *MediaSource) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if m.audio != nil {
		tracks = append(tracks, m.audio)
	}
	if m.video != nil {
		tracks = append(tracks, m.video)
	}
	return tracks
}

// Start launches the sample pumps. Samples written before any peer is bound
// are dropped by pion, so starting early is harmless.
func (m *MediaSource) Start() {
	if m.audio != nil {
		go m.pumpAudio()
	}
	if m.video != nil {
		go m.pumpVideo()
	}
}

func (m *MediaSource) SetMuted(v bool)     { m.muted.Store(v) }
func (m *MediaSource) Muted() bool         { return m.muted.Load() }
func (m *MediaSource) SetCameraOff(v bool) { m.cameraOff.Store(v) }
func (m *MediaSource) CameraOff() bool     { return m.cameraOff.Load() }

func (m *MediaSource) Close() {
	m.closeOnce.Do(func() {
		close(m.quit)
	})
}

func (m *MediaSource) pumpAudio() {
	file, err := os.Open(m.audioPath)
	if err != nil {
		log.Error().Err(err).Str("path", m.audioPath).Msg("Failed to open audio source")
		return
	}
	defer file.Close()

	ogg, _, err := oggreader.NewWith(file)
	if err != nil {
		log.Error().Err(err).Str("path", m.audioPath).Msg("Failed to read ogg header")
		return
	}

	var lastGranule uint64
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
		}

		pageData, pageHeader, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				log.Error().Err(err).Msg("Failed to rewind audio source")
				return
			}
			ogg, _, err = oggreader.NewWith(file)
			if err != nil {
				log.Error().Err(err).Msg("Failed to reopen audio source")
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to parse ogg page")
			return
		}

		sampleCount := float64(pageHeader.GranulePosition - lastGranule)
		lastGranule = pageHeader.GranulePosition
		sampleDuration := time.Duration((sampleCount/48000)*1000) * time.Millisecond

		if m.muted.Load() {
			continue
		}
		if err := m.audio.WriteSample(media.Sample{Data: pageData, Duration: sampleDuration}); err != nil {
			log.Error().Err(err).Msg("Failed to write audio sample")
			return
		}
	}
}

func (m *MediaSource) pumpVideo() {
	file, err := os.Open(m.videoPath)
	if err != nil {
		log.Error().Err(err).Str("path", m.videoPath).Msg("Failed to open video source")
		return
	}
	defer file.Close()

	ivf, header, err := ivfreader.NewWith(file)
	if err != nil {
		log.Error().Err(err).Str("path", m.videoPath).Msg("Failed to read ivf header")
		return
	}

	frameDuration := time.Millisecond *
		time.Duration((float32(header.TimebaseNumerator)/float32(header.TimebaseDenominator))*1000)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
		}

		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				log.Error().Err(err).Msg("Failed to rewind video source")
				return
			}
			ivf, _, err = ivfreader.NewWith(file)
			if err != nil {
				log.Error().Err(err).Msg("Failed to reopen video source")
				return
			}
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to parse ivf frame")
			return
		}

		if m.cameraOff.Load() {
			continue
		}
		if err := m.video.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			log.Error().Err(err).Msg("Failed to write video sample")
			return
		}
	}
}
