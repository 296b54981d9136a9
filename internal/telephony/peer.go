package telephony

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"agent-console/internal/backend"
	"agent-console/internal/calls"
	"agent-console/internal/fault"
)

// PeerAudio carries the call over a WebRTC peer connection. STUN only; no
// TURN relay is configured.
//
// The microphone capture belongs to the call: it is released on every end
// path, including failed placement and a failed connection.
type PeerAudio struct {
	records  CallRecords
	signaler Signaler
	mic      Microphone
	speaker  Speaker
	config   webrtc.Configuration
	log      *slog.Logger

	mu    sync.Mutex
	calls map[string]*peerCall
}

type PeerOptions struct {
	STUNURLs   []string
	Microphone Microphone
	Speaker    Speaker
	Logger     *slog.Logger
}

func NewPeerAudio(records CallRecords, signaler Signaler, opts PeerOptions) *PeerAudio {
	p := &PeerAudio{
		records:  records,
		signaler: signaler,
		mic:      opts.Microphone,
		speaker:  opts.Speaker,
		log:      opts.Logger,
		calls:    map[string]*peerCall{},
	}
	if len(opts.STUNURLs) > 0 {
		p.config.ICEServers = []webrtc.ICEServer{{URLs: opts.STUNURLs}}
	}
	if p.mic == nil {
		p.mic = SilenceMicrophone{}
	}
	if p.speaker == nil {
		p.speaker = DiscardSpeaker{}
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

type peerCall struct {
	callID  string
	pc      *webrtc.PeerConnection
	capture Capture
	dropped chan struct{}

	dropOnce  sync.Once
	closeOnce sync.Once
}

func (c *peerCall) drop() { c.dropOnce.Do(func() { close(c.dropped) }) }

// teardown stops the capture and closes the peer connection.
func (c *peerCall) teardown() error {
	var err error
	c.closeOnce.Do(func() {
		if c.capture != nil {
			c.capture.Stop()
		}
		if c.pc != nil {
			err = c.pc.Close()
		}
	})
	return err
}

func (p *PeerAudio) Name() string { return string(calls.CallKindWebRTC) }

// Supports reports whether peer audio is available at all; it does not need
// a phone number.
func (p *PeerAudio) Supports(calls.Contact) bool { return p.signaler != nil }

func (p *PeerAudio) Place(ctx context.Context, c calls.Contact) (Placement, error) {
	const op = "telephony.peer.place"

	rec, err := p.records.OpenCall(ctx, backend.OpenCallRequest{ContactID: c.ID, Kind: calls.CallKindWebRTC, Phone: c.Phone})
	if err != nil {
		return Placement{}, fault.Transport(op, err)
	}

	capture, err := p.mic.Open(ctx)
	if err != nil {
		p.abandon(ctx, rec.CallID, nil)
		return Placement{}, fault.Transport(op, err)
	}
	call := &peerCall{callID: rec.CallID, capture: capture, dropped: make(chan struct{})}

	if err := p.negotiate(ctx, call, c); err != nil {
		p.abandon(ctx, rec.CallID, call)
		return Placement{}, fault.Transport(op, err)
	}

	sid := rec.TransportSessionID
	if sid == "" {
		sid = uuid.NewString()
	}
	p.mu.Lock()
	p.calls[rec.CallID] = call
	p.mu.Unlock()

	return Placement{
		CallID:             rec.CallID,
		TransportSessionID: sid,
		Transport:          p.Name(),
		StartTime:          startTime(rec),
		Dropped:            call.dropped,
	}, nil
}

func (p *PeerAudio) negotiate(ctx context.Context, call *peerCall, c calls.Contact) error {
	pc, err := webrtc.NewPeerConnection(p.config)
	if err != nil {
		return err
	}
	call.pc = pc

	for _, track := range call.capture.Tracks() {
		sender, err := pc.AddTrack(track)
		if err != nil {
			return err
		}
		go drainRTCP(sender)
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go p.speaker.Play(remote)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.log.Debug("peer connection state", "call_id", call.callID, "state", s.String())
		if s == webrtc.PeerConnectionStateFailed {
			call.drop()
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	answer, err := p.signaler.Negotiate(ctx, call.callID, c.ID, *pc.LocalDescription())
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		_ = p.signaler.Hangup(ctx, call.callID)
		return err
	}
	return nil
}

// abandon releases whatever a failed placement acquired and closes the call
// record. Errors are logged only.
func (p *PeerAudio) abandon(ctx context.Context, callID string, call *peerCall) {
	if call != nil {
		if err := call.teardown(); err != nil {
			p.log.Warn("peer teardown failed", "call_id", callID, "err", err)
		}
	}
	if err := p.records.EndCall(context.WithoutCancel(ctx), callID, ""); err != nil {
		p.log.Warn("closing abandoned call record failed", "call_id", callID, "err", err)
	}
}

func (p *PeerAudio) End(ctx context.Context, callID, transportSessionID string) error {
	p.mu.Lock()
	call, ok := p.calls[callID]
	delete(p.calls, callID)
	p.mu.Unlock()

	var errs []error
	if ok {
		if err := call.teardown(); err != nil {
			errs = append(errs, err)
		}
		if err := p.signaler.Hangup(ctx, callID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.records.EndCall(ctx, callID, transportSessionID); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fault.Transport("telephony.peer.end", errors.Join(errs...))
	}
	return nil
}

// Close tears down every live call without touching the backend. It is the
// shutdown path.
func (p *PeerAudio) Close() {
	p.mu.Lock()
	live := p.calls
	p.calls = map[string]*peerCall{}
	p.mu.Unlock()

	for id, call := range live {
		if err := call.teardown(); err != nil {
			p.log.Warn("peer teardown failed", "call_id", id, "err", err)
		}
	}
}

// Live returns the number of connected peer calls.
func (p *PeerAudio) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// drainRTCP reads incoming RTCP so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
