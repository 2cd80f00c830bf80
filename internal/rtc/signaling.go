package rtc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"

	"github.com/visionguard/visionguard/internal/data"
	"github.com/visionguard/visionguard/internal/stream"
)

var (
	ErrBadOffer  = errors.New("bad offer")
	ErrForbidden = errors.New("forbidden")
	ErrTimeout   = errors.New("signaling timeout")
)

const sampleBuilderDepth = 64

// ShopAccess authorizes a user against a shop, satisfied by data.ShopModel.
type ShopAccess interface {
	VerifyAccess(ctx context.Context, shopID, userID, role string) error
}

// ProcessorFactory builds the per-stream pipeline for a new inbound track.
type ProcessorFactory func(streamID, userID, shopID, location string) *stream.Processor

type Config struct {
	STUNServers     []string
	SignalTimeout   time.Duration
	KeyframePeriod  time.Duration
	DisconnectGrace time.Duration
}

type OfferRequest struct {
	SDP            string            `json:"sdp"`
	Type           string            `json:"type"`
	UserID         string            `json:"user_id"`
	ShopID         string            `json:"shop_id"`
	StreamMetadata map[string]string `json:"stream_metadata"`
}

type OfferResponse struct {
	SDP      string `json:"sdp"`
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	StreamID string `json:"stream_id"`
}

// Service owns WebRTC signaling and stream teardown.
type Service struct {
	cfg          Config
	access       ShopAccess
	registry     *stream.Registry
	newProcessor ProcessorFactory
}

func NewService(cfg Config, access ShopAccess, registry *stream.Registry, factory ProcessorFactory) *Service {
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = 10 * time.Second
	}
	if cfg.KeyframePeriod <= 0 {
		cfg.KeyframePeriod = 3 * time.Second
	}
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = 15 * time.Second
	}
	return &Service{cfg: cfg, access: access, registry: registry, newProcessor: factory}
}

// peerCloser tears down the peer connection and the processor context
// together through the registry handle.
type peerCloser struct {
	pc     *webrtc.PeerConnection
	cancel context.CancelFunc
}

func (p peerCloser) Close() error {
	p.cancel()
	return p.pc.Close()
}

// Offer authenticates, authorizes and answers an SDP offer, attaching the
// processing pipeline to the inbound video track. The whole exchange runs
// under the signaling deadline.
func (s *Service) Offer(ctx context.Context, callerID, role string, req OfferRequest) (*OfferResponse, error) {
	if req.Type != "offer" || req.SDP == "" || req.ShopID == "" {
		return nil, ErrBadOffer
	}
	if req.UserID != callerID {
		return nil, fmt.Errorf("%w: user mismatch", ErrForbidden)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SignalTimeout)
	defer cancel()

	if err := s.access.VerifyAccess(ctx, req.ShopID, callerID, role); err != nil {
		switch {
		case errors.Is(err, data.ErrAccessDenied):
			return nil, ErrForbidden
		case errors.Is(err, data.ErrRecordNotFound):
			return nil, fmt.Errorf("%w: unknown shop", ErrBadOffer)
		default:
			return nil, err
		}
	}

	streamID := uuid.New().String()
	location := req.StreamMetadata["location"]
	if location == "" {
		location = req.StreamMetadata["camera"]
	}

	iceServers := make([]webrtc.ICEServer, 0, len(s.cfg.STUNServers))
	for _, u := range s.cfg.STUNServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	procCtx, procCancel := context.WithCancel(context.Background())
	proc := s.newProcessor(streamID, callerID, req.ShopID, location)

	cleanup := func() {
		procCancel()
		proc.Stop()
		pc.Close()
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		log.Printf("[Signaling] Video track for stream %s: %s", streamID, track.Codec().MimeType)
		go s.consumeTrack(procCtx, pc, track, proc)
	})

	watch := &stateWatch{
		grace:    s.cfg.DisconnectGrace,
		teardown: func() { s.Teardown(streamID) },
	}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[Signaling] Stream %s connection state: %s", streamID, state)
		watch.OnState(state)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  req.SDP,
	}); err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: %v", ErrBadOffer, err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		cleanup()
		return nil, fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		cleanup()
		return nil, ErrTimeout
	}

	handle := &stream.Handle{
		StreamID:  streamID,
		UserID:    callerID,
		ShopID:    req.ShopID,
		Location:  location,
		PC:        peerCloser{pc: pc, cancel: procCancel},
		Processor: proc,
		CreatedAt: time.Now(),
	}
	if err := s.registry.Add(handle); err != nil {
		cleanup()
		return nil, fmt.Errorf("register stream: %w", err)
	}

	go proc.Run(procCtx)

	return &OfferResponse{
		SDP:      pc.LocalDescription().SDP,
		Type:     "answer",
		UserID:   callerID,
		StreamID: streamID,
	}, nil
}

// stateWatch maps peer-connection state changes onto stream teardown.
// failed/closed are terminal immediately; disconnected is terminal only when
// it persists for the full grace period, since ICE routinely recovers from a
// network blip.
type stateWatch struct {
	grace    time.Duration
	teardown func()

	mu    sync.Mutex
	timer *time.Timer
}

func (w *stateWatch) OnState(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		w.cancelTimer()
		w.teardown()
	case webrtc.PeerConnectionStateDisconnected:
		w.mu.Lock()
		if w.timer == nil {
			w.timer = time.AfterFunc(w.grace, w.teardown)
		}
		w.mu.Unlock()
	case webrtc.PeerConnectionStateConnected:
		w.cancelTimer()
	}
}

func (w *stateWatch) cancelTimer() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
}

// consumeTrack reassembles RTP into VP8 samples and feeds decoded frames to
// the processor. Periodic PLI keeps key frames flowing for the pure-Go
// decoder.
func (s *Service) consumeTrack(ctx context.Context, pc *webrtc.PeerConnection, track *webrtc.TrackRemote, proc *stream.Processor) {
	if track.Codec().MimeType != webrtc.MimeTypeVP8 {
		log.Printf("[Signaling] Unsupported codec %s, ignoring track", track.Codec().MimeType)
		return
	}

	sendPLI := func() {
		if err := pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		}); err != nil {
			log.Printf("[Signaling] PLI send failed: %v", err)
		}
	}
	sendPLI()

	go func() {
		ticker := time.NewTicker(s.cfg.KeyframePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sendPLI()
			}
		}
	}()

	builder := samplebuilder.New(sampleBuilderDepth, &codecs.VP8Packet{}, track.Codec().ClockRate)
	decoder := stream.NewVP8Decoder()
	var frameNo int64

	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		builder.Push(pkt)

		for sample := builder.Pop(); sample != nil; sample = builder.Pop() {
			img, err := decoder.Decode(sample.Data)
			if err != nil {
				if !errors.Is(err, stream.ErrInterFrame) {
					log.Printf("[Signaling] Frame decode failed: %v", err)
				}
				continue
			}
			frameNo++
			proc.Submit(stream.Frame{Image: img, Number: frameNo})
		}
	}
}

// Teardown stops one stream. Returns false when the stream id is unknown.
func (s *Service) Teardown(streamID string) bool {
	h := s.registry.Remove(streamID)
	if h == nil {
		return false
	}
	h.Processor.Stop()
	if err := h.PC.Close(); err != nil {
		log.Printf("[Signaling] Close stream %s: %v", streamID, err)
	}
	log.Printf("[Signaling] Stream %s torn down", streamID)
	return true
}

// TeardownUser stops every stream of a user and reports how many.
func (s *Service) TeardownUser(userID string) int {
	handles := s.registry.RemoveAll(userID)
	for _, h := range handles {
		h.Processor.Stop()
		if err := h.PC.Close(); err != nil {
			log.Printf("[Signaling] Close stream %s: %v", h.StreamID, err)
		}
	}
	return len(handles)
}

// TeardownAll stops everything, used on shutdown.
func (s *Service) TeardownAll() {
	for _, h := range s.registry.All() {
		s.Teardown(h.StreamID)
	}
}
