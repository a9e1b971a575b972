package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
)

// RobotConfig configures the WebRTC source for a Reachy Mini head camera.
type RobotConfig struct {
	IP             string
	Port           int           // GStreamer signalling port, 8443 by default
	ProducerName   string        // producer meta name, "reachymini" by default
	DecodeInterval time.Duration // minimum time between decoded frames
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

func (c *RobotConfig) defaults() {
	if c.Port == 0 {
		c.Port = 8443
	}
	if c.ProducerName == "" {
		c.ProducerName = "reachymini"
	}
	if c.DecodeInterval <= 0 {
		c.DecodeInterval = 100 * time.Millisecond
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// signalMessage covers every message of the GStreamer webrtcsink signalling
// protocol that the source handles.
type signalMessage struct {
	Type      string `json:"type"`
	PeerID    string `json:"peerId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Producers []struct {
		ID   string            `json:"id"`
		Meta map[string]string `json:"meta"`
	} `json:"producers,omitempty"`
	SDP *struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	} `json:"sdp,omitempty"`
	ICE *struct {
		Candidate     string  `json:"candidate"`
		SDPMid        *string `json:"sdpMid"`
		SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
	} `json:"ice,omitempty"`
}

// Robot receives the robot's H264 camera stream over WebRTC and decodes it
// to JPEG frames with ffmpeg.
type Robot struct {
	cfg    RobotConfig
	logger *slog.Logger
	box    *mailbox

	ws      *websocket.Conn
	wsMu    sync.Mutex
	pc      *webrtc.PeerConnection
	session atomic.Value // string

	pending    h264Buffer
	trackReady chan struct{}
	closed     atomic.Bool
	cancel     context.CancelFunc
}

// DialRobot connects to the robot's signalling server and waits for the
// video track.
func DialRobot(ctx context.Context, cfg RobotConfig) (*Robot, error) {
	cfg.defaults()
	if cfg.IP == "" {
		return nil, errors.New("source: robot IP is required")
	}

	r := &Robot{
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "source.robot", "robot", cfg.IP),
		box:        newMailbox(),
		trackReady: make(chan struct{}, 1),
	}
	r.session.Store("")

	url := fmt.Sprintf("ws://%s:%d", cfg.IP, cfg.Port)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("source: signalling connect failed: %w", err)
	}
	r.ws = ws

	peerID, err := r.waitForWelcome()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("source: welcome failed: %w", err)
	}
	producer, err := r.findProducer()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("source: find producer failed: %w", err)
	}
	r.logger.Info("signalling ready", "peer", peerID, "producer", producer)

	if err := r.createPeerConnection(); err != nil {
		r.Close()
		return nil, fmt.Errorf("source: peer connection failed: %w", err)
	}
	if err := r.writeJSON(map[string]string{"type": "startSession", "peerId": producer}); err != nil {
		r.Close()
		return nil, fmt.Errorf("source: start session failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.handleSignalling(runCtx)

	select {
	case <-r.trackReady:
		r.logger.Info("video track connected")
	case <-time.After(cfg.ConnectTimeout):
		r.Close()
		return nil, errors.New("source: timeout waiting for video")
	case <-ctx.Done():
		r.Close()
		return nil, ctx.Err()
	}

	// Decoding runs on the run context so it stops with Close.
	r.startDecode(runCtx)
	return r, nil
}

func (r *Robot) readSignal(timeout time.Duration) (*signalMessage, error) {
	r.ws.SetReadDeadline(time.Now().Add(timeout))
	defer r.ws.SetReadDeadline(time.Time{})
	_, data, err := r.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg signalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *Robot) writeJSON(v any) error {
	r.wsMu.Lock()
	defer r.wsMu.Unlock()
	return r.ws.WriteJSON(v)
}

func (r *Robot) waitForWelcome() (string, error) {
	msg, err := r.readSignal(10 * time.Second)
	if err != nil {
		return "", err
	}
	if msg.Type != "welcome" {
		return "", fmt.Errorf("expected welcome, got %s", msg.Type)
	}
	return msg.PeerID, nil
}

func (r *Robot) findProducer() (string, error) {
	if err := r.writeJSON(map[string]string{"type": "list"}); err != nil {
		return "", err
	}
	msg, err := r.readSignal(5 * time.Second)
	if err != nil {
		return "", err
	}
	for _, p := range msg.Producers {
		if p.Meta["name"] == r.cfg.ProducerName {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("%s producer not found in %d producers", r.cfg.ProducerName, len(msg.Producers))
}

var errNoTrack = errors.New("source: no video track")

func (r *Robot) createPeerConnection() error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	r.pc = pc

	if _, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		r.logger.Info("got track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go r.readTrack(track)
		}
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			r.sendICECandidate(candidate)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.logger.Debug("connection state", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			r.box.fail(errNoTrack)
		}
	})
	return nil
}

func (r *Robot) handleSignalling(ctx context.Context) {
	for ctx.Err() == nil {
		_, data, err := r.ws.ReadMessage()
		if err != nil {
			if !r.closed.Load() {
				r.logger.Warn("signalling error", "error", err)
			}
			return
		}
		var msg signalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "sessionStarted":
			r.session.Store(msg.SessionID)
		case "peer":
			r.handlePeerMessage(&msg)
		case "endSession":
			r.box.fail(errNoTrack)
			return
		}
	}
}

func (r *Robot) handlePeerMessage(msg *signalMessage) {
	if msg.SDP != nil && msg.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP.SDP}
		if err := r.pc.SetRemoteDescription(offer); err != nil {
			r.logger.Warn("set remote description failed", "error", err)
			return
		}
		answer, err := r.pc.CreateAnswer(nil)
		if err != nil {
			r.logger.Warn("create answer failed", "error", err)
			return
		}
		if err := r.pc.SetLocalDescription(answer); err != nil {
			r.logger.Warn("set local description failed", "error", err)
			return
		}
		r.writeJSON(map[string]any{
			"type":      "peer",
			"sessionId": r.session.Load().(string),
			"sdp":       map[string]string{"type": answer.Type.String(), "sdp": answer.SDP},
		})
	}

	if msg.ICE != nil {
		if err := r.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     msg.ICE.Candidate,
			SDPMid:        msg.ICE.SDPMid,
			SDPMLineIndex: msg.ICE.SDPMLineIndex,
		}); err != nil {
			r.logger.Debug("add ICE candidate failed", "error", err)
		}
	}
}

func (r *Robot) sendICECandidate(candidate *webrtc.ICECandidate) {
	session := r.session.Load().(string)
	if session == "" {
		return
	}
	init := candidate.ToJSON()
	r.writeJSON(map[string]any{
		"type":      "peer",
		"sessionId": session,
		"ice": map[string]any{
			"candidate":     init.Candidate,
			"sdpMid":        init.SDPMid,
			"sdpMLineIndex": init.SDPMLineIndex,
		},
	})
}

// h264Buffer accumulates Annex B data from the track between decodes.
type h264Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *h264Buffer) write(p []byte) {
	b.mu.Lock()
	b.buf.Write(p)
	b.mu.Unlock()
}

func (b *h264Buffer) take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		return nil
	}
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	b.buf.Reset()
	return out
}

func (r *Robot) readTrack(track *webrtc.TrackRemote) {
	select {
	case r.trackReady <- struct{}{}:
	default:
	}

	depacketizer := &codecs.H264Packet{}
	for !r.closed.Load() {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			r.box.fail(errNoTrack)
			return
		}
		nal, err := depacketizer.Unmarshal(pkt.Payload)
		if err != nil || len(nal) == 0 {
			continue
		}
		r.pending.write(nal)
	}
}

func (r *Robot) startDecode(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.DecodeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			data := r.pending.take()
			if len(data) < 100 {
				continue
			}
			img, err := DecodeH264(ctx, data)
			if err != nil {
				r.logger.Debug("decode failed", "error", err)
				continue
			}
			if len(img) == 0 || IsGrayJPEG(img) {
				continue
			}
			f := Frame{JPEG: img, CapturedAt: time.Now()}
			if cfg, err := jpeg.DecodeConfig(bytes.NewReader(img)); err == nil {
				f.Width, f.Height = cfg.Width, cfg.Height
			}
			r.box.put(f)
		}
	}()
}

// Next implements Source.
func (r *Robot) Next(ctx context.Context) (Frame, error) {
	return r.box.next(ctx)
}

// Close implements Source.
func (r *Robot) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.box.close()
	var errs []error
	if r.pc != nil {
		errs = append(errs, r.pc.Close())
	}
	if r.ws != nil {
		errs = append(errs, r.ws.Close())
	}
	return errors.Join(errs...)
}

var _ Source = (*Robot)(nil)

// DecodeH264 decodes the first picture of an Annex B H264 stream to JPEG
// with a one-shot ffmpeg pipe. It returns nil data when ffmpeg produced
// no frame.
func DecodeH264(ctx context.Context, h264 []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(h264)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// not enough data for a picture yet
			return nil, nil
		}
		return nil, fmt.Errorf("source: ffmpeg: %w", err)
	}
	return stdout.Bytes(), nil
}

// IsGrayJPEG reports whether a JPEG looks like an undecoded gray or black
// placeholder frame.
func IsGrayJPEG(data []byte) bool {
	if len(data) < 1000 {
		return true
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return true
	}
	return isGrayImage(img)
}

func isGrayImage(img image.Image) bool {
	bounds := img.Bounds()
	if bounds.Dx() < 100 || bounds.Dy() < 100 {
		return true
	}

	var rSum, gSum, bSum, samples int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += bounds.Dy() / 10 {
		for x := bounds.Min.X; x < bounds.Max.X; x += bounds.Dx() / 10 {
			r, g, b, _ := img.At(x, y).RGBA()
			rSum += int(r >> 8)
			gSum += int(g >> 8)
			bSum += int(b >> 8)
			samples++
		}
	}
	if samples == 0 {
		return true
	}

	avgR, avgG, avgB := rSum/samples, gSum/samples, bSum/samples
	if avgR < 30 && avgG < 30 && avgB < 30 {
		return true
	}
	// webrtcsink sends flat mid-gray until the first keyframe
	diff := abs(avgR-avgG) + abs(avgG-avgB) + abs(avgR-avgB)
	return diff < 15 && avgR > 100 && avgR < 150
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
