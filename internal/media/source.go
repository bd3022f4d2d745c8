// Package media provides the local audio and video tracks shared by every
// peer connection.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/BioHazard786/meshcall/internal/mesh"
)

const (
	oggPageDuration = 20 * time.Millisecond
	opusClockRate   = 48000
)

// opusSilence is a single 20ms Opus frame carrying silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Options configures a Source.
type Options struct {
	// StreamID groups the two tracks on the remote side.
	StreamID string
	// VideoFile is an IVF (VP8) file looped into the video track.
	VideoFile string
	// AudioFile is an Ogg/Opus file looped into the audio track. Without
	// one the audio track carries silence.
	AudioFile string
	Logger    *slog.Logger
}

// Source owns the local tracks and the goroutines feeding them.
type Source struct {
	audio *pion.TrackLocalStaticSample
	video *pion.TrackLocalStaticSample

	audioOn atomic.Bool
	videoOn atomic.Bool

	audioFrames atomic.Uint64
	videoFrames atomic.Uint64

	files  []*os.File
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	log    *slog.Logger
}

// NewSource creates the tracks and starts feeding them. Any failure is
// reported as mesh.ErrMediaUnavailable.
func NewSource(opts Options) (*Source, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	streamID := opts.StreamID
	if streamID == "" {
		streamID = "meshcall"
	}

	audio, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: audio track: %w", mesh.ErrMediaUnavailable, err)
	}
	video, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8}, "video", streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: video track: %w", mesh.ErrMediaUnavailable, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Source{audio: audio, video: video, cancel: cancel, log: log}
	s.audioOn.Store(true)
	s.videoOn.Store(true)

	if opts.VideoFile != "" {
		f, err := s.open(opts.VideoFile)
		if err != nil {
			s.Close()
			return nil, err
		}
		if _, _, err := ivfreader.NewWith(f); err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: %s is not an IVF file: %w", mesh.ErrMediaUnavailable, opts.VideoFile, err)
		}
		s.start(func() { s.loopIVF(ctx, f) })
	}

	if opts.AudioFile != "" {
		f, err := s.open(opts.AudioFile)
		if err != nil {
			s.Close()
			return nil, err
		}
		if _, _, err := oggreader.NewWith(f); err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: %s is not an Ogg file: %w", mesh.ErrMediaUnavailable, opts.AudioFile, err)
		}
		s.start(func() { s.loopOgg(ctx, f) })
	} else {
		s.start(func() { s.silence(ctx) })
	}

	return s, nil
}

// Tracks returns the tracks to add to every peer connection.
func (s *Source) Tracks() []pion.TrackLocal {
	return []pion.TrackLocal{s.audio, s.video}
}

func (s *Source) SetAudioEnabled(on bool) { s.audioOn.Store(on) }
func (s *Source) SetVideoEnabled(on bool) { s.videoOn.Store(on) }

// ToggleAudio flips the microphone and returns the new state.
func (s *Source) ToggleAudio() bool {
	on := !s.audioOn.Load()
	s.audioOn.Store(on)
	return on
}

// ToggleVideo flips the camera and returns the new state.
func (s *Source) ToggleVideo() bool {
	on := !s.videoOn.Load()
	s.videoOn.Store(on)
	return on
}

// Enabled reports whether audio and video samples are being sent.
func (s *Source) Enabled() (audio, video bool) {
	return s.audioOn.Load(), s.videoOn.Load()
}

// Frames reports how many samples were written to each track.
func (s *Source) Frames() (audio, video uint64) {
	return s.audioFrames.Load(), s.videoFrames.Load()
}

// Close stops the feeding goroutines and releases the files. The tracks stay
// valid but receive no more samples.
func (s *Source) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		for _, f := range s.files {
			err = errors.Join(err, f.Close())
		}
	})
	return err
}

func (s *Source) open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", mesh.ErrMediaUnavailable, err)
	}
	s.files = append(s.files, f)
	return f, nil
}

func (s *Source) start(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Source) write(track *pion.TrackLocalStaticSample, on *atomic.Bool, frames *atomic.Uint64, sample media.Sample) {
	if !on.Load() {
		return
	}
	if err := track.WriteSample(sample); err != nil {
		s.log.Debug("write sample", "track", track.ID(), "err", err)
		return
	}
	frames.Add(1)
}

func (s *Source) silence(ctx context.Context) {
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.write(s.audio, &s.audioOn, &s.audioFrames, media.Sample{Data: opusSilence, Duration: oggPageDuration})
		}
	}
}

// loopIVF sends the file a frame at a time at its native frame rate and
// starts over at the end.
func (s *Source) loopIVF(ctx context.Context, f *os.File) {
	for {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			s.log.Warn("rewind video file", "err", err)
			return
		}
		reader, header, err := ivfreader.NewWith(f)
		if err != nil {
			s.log.Warn("read video file", "err", err)
			return
		}

		frameDuration := 33 * time.Millisecond
		if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
			frameDuration = time.Second * time.Duration(header.TimebaseNumerator) / time.Duration(header.TimebaseDenominator)
		}

		if !s.playIVF(ctx, reader, frameDuration) {
			return
		}
	}
}

func (s *Source) playIVF(ctx context.Context, reader *ivfreader.IVFReader, frameDuration time.Duration) bool {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			frame, _, err := reader.ParseNextFrame()
			if errors.Is(err, io.EOF) {
				return true
			}
			if err != nil {
				s.log.Warn("parse video frame", "err", err)
				return false
			}
			s.write(s.video, &s.videoOn, &s.videoFrames, media.Sample{Data: frame, Duration: frameDuration})
		}
	}
}

// loopOgg sends the file a page at a time and starts over at the end.
func (s *Source) loopOgg(ctx context.Context, f *os.File) {
	for {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			s.log.Warn("rewind audio file", "err", err)
			return
		}
		reader, _, err := oggreader.NewWith(f)
		if err != nil {
			s.log.Warn("read audio file", "err", err)
			return
		}
		if !s.playOgg(ctx, reader) {
			return
		}
	}
}

func (s *Source) playOgg(ctx context.Context, reader *oggreader.OggReader) bool {
	var lastGranule uint64
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			page, header, err := reader.ParseNextPage()
			if errors.Is(err, io.EOF) {
				return true
			}
			if err != nil {
				s.log.Warn("parse audio page", "err", err)
				return false
			}

			// The granule position is the total sample count so far.
			sampleCount := float64(header.GranulePosition - lastGranule)
			lastGranule = header.GranulePosition
			duration := time.Duration(sampleCount / opusClockRate * float64(time.Second))

			s.write(s.audio, &s.audioOn, &s.audioFrames, media.Sample{Data: page, Duration: duration})
		}
	}
}
