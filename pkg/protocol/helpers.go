package protocol

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrNotFrame is returned when a payload carries no image.
var ErrNotFrame = errors.New("protocol: not a frame message")

// NewFrameMessage creates a frame message from raw JPEG data
func NewFrameMessage(width, height int, jpegData []byte, frameID uint64) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Width:   width,
		Height:  height,
		Format:  "jpeg",
		Data:    base64.StdEncoding.EncodeToString(jpegData),
		FrameID: frameID,
	})
}

// NewNarrationMessage creates a narration message for the client
func NewNarrationMessage(id, text string, urgent bool) (*Message, error) {
	return NewMessage(TypeNarration, NarrationData{ID: id, Text: text, Urgent: urgent})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// GetFrameData extracts frame data from a message
func (m *Message) GetFrameData() (*FrameData, error) {
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetNarrationData extracts narration data from a message
func (m *Message) GetNarrationData() (*NarrationData, error) {
	var data NarrationData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeFrameData decodes the base64 image data
func (f *FrameData) DecodeFrameData() ([]byte, error) {
	return DecodeImage(f.Data)
}

// DecodeImage decodes base64 image text, accepting a data URL prefix such
// as "data:image/jpeg;base64,".
func DecodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.IndexByte(s, ',')
		if i < 0 {
			return nil, ErrNotFrame
		}
		s = s[i+1:]
	}
	if s == "" {
		return nil, ErrNotFrame
	}
	return base64.StdEncoding.DecodeString(s)
}

// ParseFramePayload extracts JPEG bytes from a client payload. The payload
// is either a frame Message or bare base64 text (optionally a data URL).
func ParseFramePayload(payload []byte) ([]byte, *FrameData, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		msg, err := ParseMessage(payload)
		if err != nil {
			return nil, nil, err
		}
		if msg.Type != TypeFrame {
			return nil, nil, ErrNotFrame
		}
		fd, err := msg.GetFrameData()
		if err != nil {
			return nil, nil, err
		}
		img, err := fd.DecodeFrameData()
		return img, fd, err
	}
	img, err := DecodeImage(trimmed)
	return img, nil, err
}
