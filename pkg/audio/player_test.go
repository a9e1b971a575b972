package audio

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/teslashibe/go-wayfinder/pkg/tts"
)

func TestLocalArgs(t *testing.T) {
	tests := []struct {
		name    string
		command string
		enc     tts.Encoding
		want    string
		wantErr error
	}{
		{"ffplay mp3", "ffplay", tts.EncodingMP3, "-nodisp -autoexit -loglevel error -i pipe:0", nil},
		{"ffplay pcm", "ffplay", tts.EncodingPCM24, "-nodisp -autoexit -loglevel error -f s16le -ar 24000 -ac 1 -i pipe:0", nil},
		{"aplay pcm", "aplay", tts.EncodingPCM16, "-q -t raw -f S16_LE -r 16000 -c 1 -", nil},
		{"aplay mp3", "aplay", tts.EncodingMP3, "", ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := localArgs(tt.command, tt.enc.Format())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := strings.Join(args, " "); got != tt.want {
				t.Errorf("args = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewLocalRejectsUnknownPlayer(t *testing.T) {
	if _, err := NewLocal("vlc"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRobotRejectsCompressedAudio(t *testing.T) {
	r := NewRobot("127.0.0.1", "pollen", "root")
	clip := &tts.AudioResult{Audio: []byte("x"), Format: tts.EncodingMP3.Format()}
	if err := r.Play(context.Background(), clip); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v", err)
	}
}

func TestRobotPipelineRate(t *testing.T) {
	if p := robotPipeline(22050); !strings.Contains(p, "sample-rate=22050") {
		t.Errorf("pipeline = %q", p)
	}
}
