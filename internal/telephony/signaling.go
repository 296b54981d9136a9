package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// Signaler carries the SDP offer/answer exchange for a peer call.
type Signaler interface {
	Negotiate(ctx context.Context, callID, contactID string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// Hangup tells the remote side the call is over and releases the channel.
	Hangup(ctx context.Context, callID string) error
}

const (
	signalWriteTimeout  = 10 * time.Second
	signalAnswerTimeout = 30 * time.Second
)

type signalMessage struct {
	Type      string `json:"type"` // offer, answer, bye, error
	CallID    string `json:"call_id"`
	ContactID string `json:"contact_id,omitempty"`
	SDP       string `json:"sdp,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ErrSignalingRejected is returned when the signaling server answers with an error.
var ErrSignalingRejected = errors.New("telephony: signaling rejected the offer")

// WSSignaler exchanges SDP over one websocket connection per call.
type WSSignaler struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func NewWSSignaler(url string, header http.Header) *WSSignaler {
	return &WSSignaler{URL: url, Header: header, Dialer: websocket.DefaultDialer, conns: map[string]*websocket.Conn{}}
}

func (s *WSSignaler) Negotiate(ctx context.Context, callID, contactID string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, wsURL(s.URL), s.Header)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("telephony: signaling dial: %w", err)
	}
	// Unblocks ReadJSON when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetWriteDeadline(time.Now().Add(signalWriteTimeout))
	if err := conn.WriteJSON(signalMessage{Type: "offer", CallID: callID, ContactID: contactID, SDP: offer.SDP}); err != nil {
		_ = conn.Close()
		return webrtc.SessionDescription{}, fmt.Errorf("telephony: signaling send offer: %w", err)
	}

	deadline := time.Now().Add(signalAnswerTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetReadDeadline(deadline)

	for {
		var m signalMessage
		if err := conn.ReadJSON(&m); err != nil {
			_ = conn.Close()
			if ctx.Err() != nil {
				return webrtc.SessionDescription{}, ctx.Err()
			}
			return webrtc.SessionDescription{}, fmt.Errorf("telephony: signaling read answer: %w", err)
		}
		switch m.Type {
		case "answer":
			_ = conn.SetReadDeadline(time.Time{})
			s.mu.Lock()
			if s.conns == nil {
				s.conns = map[string]*websocket.Conn{}
			}
			s.conns[callID] = conn
			s.mu.Unlock()
			go drain(conn)
			return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}, nil
		case "error":
			_ = conn.Close()
			return webrtc.SessionDescription{}, fmt.Errorf("%w: %s", ErrSignalingRejected, m.Error)
		}
	}
}

func (s *WSSignaler) Hangup(_ context.Context, callID string) error {
	s.mu.Lock()
	conn, ok := s.conns[callID]
	delete(s.conns, callID)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	_ = conn.SetWriteDeadline(time.Now().Add(signalWriteTimeout))
	err := conn.WriteJSON(signalMessage{Type: "bye", CallID: callID})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = conn.Close()
	return err
}

// drain keeps control frames flowing until the connection closes.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wsURL converts http(s) URLs to ws(s).
func wsURL(u string) string {
	if strings.HasPrefix(u, "http") {
		return "ws" + strings.TrimPrefix(u, "http")
	}
	return u
}
