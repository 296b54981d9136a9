package telephony

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Capture is an acquired audio input. Stop releases every track; it is safe
// to call more than once.
type Capture interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

// Microphone hands out captures. Only the active call session holds one.
type Microphone interface {
	Open(ctx context.Context) (Capture, error)
}

const opusFrame = 20 * time.Millisecond

// opusSilence is a single Opus frame encoding 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilenceMicrophone produces an Opus track carrying silence. It is used on
// hosts without an audio device so the peer connection still negotiates a
// send direction.
type SilenceMicrophone struct {
	StreamID string
}

func (m SilenceMicrophone) Open(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream := m.StreamID
	if stream == "" {
		stream = "agent-console"
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", stream)
	if err != nil {
		return nil, err
	}
	c := &silenceCapture{track: track, stop: make(chan struct{}), done: make(chan struct{})}
	go c.run()
	return c, nil
}

type silenceCapture struct {
	track *webrtc.TrackLocalStaticSample
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (c *silenceCapture) Tracks() []webrtc.TrackLocal { return []webrtc.TrackLocal{c.track} }

func (c *silenceCapture) Stop() {
	c.once.Do(func() {
		close(c.stop)
		<-c.done
	})
}

func (c *silenceCapture) run() {
	defer close(c.done)
	t := time.NewTicker(opusFrame)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			// Unbound tracks drop samples silently.
			_ = c.track.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrame})
		}
	}
}

// Speaker consumes remote audio. It is the playback sink for a peer call.
type Speaker interface {
	Play(track *webrtc.TrackRemote)
}

// DiscardSpeaker reads and drops remote audio until the track ends.
type DiscardSpeaker struct{}

func (DiscardSpeaker) Play(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
