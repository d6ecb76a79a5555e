// Package camera reads JPEG frames from a capture device or stream through
// an ffmpeg MJPEG pipe.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrReadTimeout means no frame arrived within the read timeout.
	ErrReadTimeout = errors.New("camera read timeout")
	// ErrStreamEnded means the capture process stopped producing frames.
	ErrStreamEnded = errors.New("camera stream ended")
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// Source yields encoded frames. It is owned by a single worker.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Opener opens a Source for a camera source string.
type Opener interface {
	Open(ctx context.Context, source string) (Source, error)
}

// SplitJpeg is a bufio.SplitFunc yielding one complete JPEG per token,
// delimited by the SOI and EOI markers.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// FFmpeg opens sources by spawning ffmpeg.
type FFmpeg struct {
	Binary       string
	FPS          int
	WarmupFrames int
	ReadTimeout  time.Duration
}

// Args returns the ffmpeg arguments for a source. A bare number is a
// /dev/videoN index; device paths use v4l2; rtsp URLs are forced onto TCP.
func (f FFmpeg) Args(source string) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	switch {
	case isIndex(source):
		args = append(args, "-f", "v4l2", "-i", "/dev/video"+source)
	case strings.HasPrefix(source, "/dev/video"):
		args = append(args, "-f", "v4l2", "-i", source)
	case strings.HasPrefix(source, "rtsp://"):
		args = append(args, "-rtsp_transport", "tcp", "-i", source)
	default:
		args = append(args, "-i", source)
	}
	if f.FPS > 0 {
		args = append(args, "-r", strconv.Itoa(f.FPS))
	}
	return append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil
}

// Open starts ffmpeg and discards the warm-up frames. The camera counts as
// open once at least one frame has been read.
func (f FFmpeg) Open(ctx context.Context, source string) (Source, error) {
	if source == "" {
		return nil, errors.New("camera source required")
	}
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.Command(bin, f.Args(source)...)
	stderr := &limitedBuffer{max: 4096}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("camera %s: %w", source, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("camera %s: start ffmpeg: %w", source, err)
	}

	s := newStream(stdout, func() error {
		cmd.Process.Kill()
		cmd.Wait()
		return nil
	})
	if f.ReadTimeout > 0 {
		s.readTimeout = f.ReadTimeout
	}

	warmup := f.WarmupFrames
	if warmup <= 0 {
		warmup = 1
	}
	got := 0
	for i := 0; i < warmup; i++ {
		if _, err := s.Read(ctx); err != nil {
			if got > 0 && !errors.Is(err, context.Canceled) {
				break
			}
			s.Close()
			return nil, fmt.Errorf("camera %s: %w: %s", source, err, strings.TrimSpace(stderr.String()))
		}
		got++
	}
	return s, nil
}

// Stream turns a byte stream of concatenated JPEGs into frames.
type Stream struct {
	frames      chan []byte
	stop        chan struct{}
	readTimeout time.Duration
	closer      func() error

	once     sync.Once
	mu       sync.Mutex
	scanErr  error
	closeErr error
}

func newStream(r io.Reader, closer func() error) *Stream {
	s := &Stream{
		frames:      make(chan []byte, 1),
		stop:        make(chan struct{}),
		readTimeout: 5 * time.Second,
		closer:      closer,
	}
	go s.pump(r)
	return s
}

func (s *Stream) pump(r io.Reader) {
	defer close(s.frames)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)
	scanner.Split(SplitJpeg)
	for scanner.Scan() {
		frame := make([]byte, len(scanner.Bytes()))
		copy(frame, scanner.Bytes())
		select {
		case s.frames <- frame:
		case <-s.stop:
			return
		}
	}
	s.mu.Lock()
	s.scanErr = scanner.Err()
	s.mu.Unlock()
}

// Read returns the next frame.
func (s *Stream) Read(ctx context.Context) ([]byte, error) {
	timer := time.NewTimer(s.readTimeout)
	defer timer.Stop()
	select {
	case frame, ok := <-s.frames:
		if !ok {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.scanErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrStreamEnded, s.scanErr)
			}
			return nil, ErrStreamEnded
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrReadTimeout
	}
}

// Close stops the capture process. It is safe to call more than once.
func (s *Stream) Close() error {
	s.once.Do(func() {
		close(s.stop)
		if s.closer != nil {
			s.closeErr = s.closer()
		}
	})
	return s.closeErr
}

type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
