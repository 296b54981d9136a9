package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"agent-console/internal/fault"
)

// fakeSignaler answers offers with an in-process pion peer, or fails.
type fakeSignaler struct {
	mu      sync.Mutex
	fail    error
	remotes []*webrtc.PeerConnection
	hangups []string
}

func (s *fakeSignaler) Negotiate(_ context.Context, _, _ string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if s.fail != nil {
		return webrtc.SessionDescription{}, s.fail
	}
	remote, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	s.mu.Lock()
	s.remotes = append(s.remotes, remote)
	s.mu.Unlock()

	if err := remote.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := remote.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	gathered := webrtc.GatheringCompletePromise(remote)
	if err := remote.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	<-gathered
	return *remote.LocalDescription(), nil
}

func (s *fakeSignaler) Hangup(_ context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hangups = append(s.hangups, callID)
	return nil
}

func (s *fakeSignaler) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.remotes {
		_ = r.Close()
	}
}

// countingMic wraps the silence microphone and counts releases.
type countingMic struct {
	mu      sync.Mutex
	opened  int
	stopped int
	err     error
}

func (m *countingMic) Open(ctx context.Context) (Capture, error) {
	if m.err != nil {
		return nil, m.err
	}
	c, err := SilenceMicrophone{}.Open(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
	return &countingCapture{Capture: c, mic: m}, nil
}

func (m *countingMic) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened, m.stopped
}

type countingCapture struct {
	Capture
	mic  *countingMic
	once sync.Once
}

func (c *countingCapture) Stop() {
	c.once.Do(func() {
		c.Capture.Stop()
		c.mic.mu.Lock()
		c.mic.stopped++
		c.mic.mu.Unlock()
	})
}

func TestPeerAudio_PlaceAndEndReleasesMicrophone(t *testing.T) {
	rec := &fakeRecords{}
	sig := &fakeSignaler{}
	defer sig.close()
	mic := &countingMic{}
	p := NewPeerAudio(rec, sig, PeerOptions{Microphone: mic})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pl, err := p.Place(ctx, withoutPhone)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if pl.TransportSessionID == "" || pl.Dropped == nil || p.Live() != 1 {
		t.Fatalf("unexpected placement %+v live=%d", pl, p.Live())
	}
	if opened, stopped := mic.counts(); opened != 1 || stopped != 0 {
		t.Fatalf("expected one open capture, got opened=%d stopped=%d", opened, stopped)
	}

	if err := p.End(ctx, pl.CallID, pl.TransportSessionID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, stopped := mic.counts(); stopped != 1 {
		t.Fatalf("expected capture released, stopped=%d", stopped)
	}
	if p.Live() != 0 || len(sig.hangups) != 1 || len(rec.endedCalls()) != 1 {
		t.Fatalf("expected full teardown, live=%d hangups=%v ended=%v", p.Live(), sig.hangups, rec.endedCalls())
	}
}

func TestPeerAudio_SignalingFailureReleasesMicrophone(t *testing.T) {
	rec := &fakeRecords{}
	mic := &countingMic{}
	p := NewPeerAudio(rec, &fakeSignaler{fail: errors.New("signaling down")}, PeerOptions{Microphone: mic})

	_, err := p.Place(context.Background(), withoutPhone)
	if !errors.Is(err, fault.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if opened, stopped := mic.counts(); opened != 1 || stopped != 1 {
		t.Fatalf("expected capture released, opened=%d stopped=%d", opened, stopped)
	}
	if got := rec.endedCalls(); len(got) != 1 || got[0] != "call-c2" {
		t.Fatalf("expected the call record to be closed, got %v", got)
	}
	if p.Live() != 0 {
		t.Fatalf("expected no live calls")
	}
}

func TestPeerAudio_MicrophoneUnavailable(t *testing.T) {
	rec := &fakeRecords{}
	p := NewPeerAudio(rec, &fakeSignaler{}, PeerOptions{Microphone: &countingMic{err: errors.New("permission denied")}})

	_, err := p.Place(context.Background(), withoutPhone)
	if !errors.Is(err, fault.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(rec.endedCalls()) != 1 {
		t.Fatalf("expected the call record to be closed")
	}
}

func TestPeerAudio_CloseTearsDownLiveCalls(t *testing.T) {
	sig := &fakeSignaler{}
	defer sig.close()
	mic := &countingMic{}
	p := NewPeerAudio(&fakeRecords{}, sig, PeerOptions{Microphone: mic})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := p.Place(ctx, withoutPhone); err != nil {
		t.Fatalf("place: %v", err)
	}
	p.Close()
	if _, stopped := mic.counts(); stopped != 1 || p.Live() != 0 {
		t.Fatalf("expected teardown on close, stopped=%d live=%d", stopped, p.Live())
	}
}

func TestWSSignaler_ExchangesOfferAndAnswer(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	gotBye := make(chan signalMessage, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var offer signalMessage
		if err := conn.ReadJSON(&offer); err != nil || offer.Type != "offer" {
			return
		}
		_ = conn.WriteJSON(signalMessage{Type: "answer", CallID: offer.CallID, SDP: "answer-for-" + offer.ContactID})

		var bye signalMessage
		if err := conn.ReadJSON(&bye); err == nil {
			gotBye <- bye
		}
	}))
	defer srv.Close()

	s := NewWSSignaler(srv.URL, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	answer, err := s.Negotiate(ctx, "call-1", "c1", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"})
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer || answer.SDP != "answer-for-c1" {
		t.Fatalf("unexpected answer %+v", answer)
	}

	if err := s.Hangup(ctx, "call-1"); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	select {
	case bye := <-gotBye:
		if bye.Type != "bye" || bye.CallID != "call-1" {
			t.Fatalf("unexpected bye %+v", bye)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("expected bye message")
	}
}

func TestWSSignaler_Rejection(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var offer signalMessage
		_ = conn.ReadJSON(&offer)
		_ = conn.WriteJSON(signalMessage{Type: "error", Error: "contact offline"})
	}))
	defer srv.Close()

	_, err := NewWSSignaler(srv.URL, nil).Negotiate(context.Background(), "call-1", "c1", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"})
	if !errors.Is(err, ErrSignalingRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}
