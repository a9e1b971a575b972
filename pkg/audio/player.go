// Package audio plays synthesized narration clips through an external
// player process, either on the local machine or on a robot over SSH.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"github.com/teslashibe/go-wayfinder/pkg/tts"
)

// ErrUnsupportedFormat is returned when a player cannot handle a clip format.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// Player plays one clip to completion.
type Player interface {
	Play(ctx context.Context, clip *tts.AudioResult) error
}

// Local plays clips with ffplay or aplay on this machine. Play blocks until
// the process exits; concurrent calls are serialized.
type Local struct {
	command string
	mu      sync.Mutex
}

// NewLocal creates a local player. command is "ffplay" or "aplay".
func NewLocal(command string) (*Local, error) {
	switch command {
	case "ffplay", "aplay":
	default:
		return nil, fmt.Errorf("audio: unknown player %q", command)
	}
	if _, err := exec.LookPath(command); err != nil {
		return nil, fmt.Errorf("audio: %s not found: %w", command, err)
	}
	return &Local{command: command}, nil
}

// Play pipes the clip into the player and waits for playback to finish.
func (l *Local) Play(ctx context.Context, clip *tts.AudioResult) error {
	args, err := localArgs(l.command, clip.Format)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cmd := exec.CommandContext(ctx, l.command, args...)
	cmd.Stdin = bytes.NewReader(clip.Audio)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("audio: %s: %w: %s", l.command, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// localArgs returns the player arguments for reading the clip from stdin.
func localArgs(command string, f tts.AudioFormat) ([]string, error) {
	rate := strconv.Itoa(f.SampleRate)
	switch command {
	case "ffplay":
		args := []string{"-nodisp", "-autoexit", "-loglevel", "error"}
		if f.Encoding.IsPCM() {
			args = append(args, "-f", "s16le", "-ar", rate, "-ac", "1")
		}
		return append(args, "-i", "pipe:0"), nil
	case "aplay":
		if !f.Encoding.IsPCM() {
			return nil, fmt.Errorf("%w: aplay needs PCM, got %s", ErrUnsupportedFormat, f.Encoding)
		}
		return []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", "1", "-"}, nil
	}
	return nil, fmt.Errorf("audio: unknown player %q", command)
}

// Robot plays PCM clips on a Reachy robot's speaker by piping them over SSH
// into a GStreamer pipeline that feeds the robot's local RTP audio input.
type Robot struct {
	robotIP string
	sshUser string
	sshPass string
	mu      sync.Mutex
}

// NewRobot creates a robot player.
func NewRobot(robotIP, sshUser, sshPass string) *Robot {
	return &Robot{robotIP: robotIP, sshUser: sshUser, sshPass: sshPass}
}

// Play streams the clip to the robot and waits for the pipeline to exit.
func (r *Robot) Play(ctx context.Context, clip *tts.AudioResult) error {
	if !clip.Format.Encoding.IsPCM() {
		return fmt.Errorf("%w: robot playback needs PCM, got %s", ErrUnsupportedFormat, clip.Format.Encoding)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cmd := exec.CommandContext(ctx, "sshpass", "-p", r.sshPass,
		"ssh", "-o", "StrictHostKeyChecking=no",
		fmt.Sprintf("%s@%s", r.sshUser, r.robotIP),
		robotPipeline(clip.Format.SampleRate))
	cmd.Stdin = bytes.NewReader(clip.Audio)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("audio: robot playback: %w", err)
	}
	return nil
}

func robotPipeline(sampleRate int) string {
	return fmt.Sprintf("gst-launch-1.0 -q fdsrc fd=0 ! rawaudioparse format=pcm pcm-format=s16le sample-rate=%d num-channels=1 "+
		"! audioconvert ! audioresample ! audio/x-raw,rate=48000,channels=1,layout=interleaved "+
		"! queue ! opusenc frame-size=20 ! rtpopuspay pt=96 ! udpsink host=127.0.0.1 port=5000 sync=true", sampleRate)
}

var (
	_ Player = (*Local)(nil)
	_ Player = (*Robot)(nil)
)
