package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioAcquirer captures the default input device through PortAudio.
// The stream yields little-endian 16-bit PCM; chunks are wrapped in a WAV
// header when finalized.
type PortAudioAcquirer struct {
	SampleRate int
	Channels   int
}

func NewPortAudioAcquirer(sampleRate, channels int) *PortAudioAcquirer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	return &PortAudioAcquirer{SampleRate: sampleRate, Channels: channels}
}

func (a *PortAudioAcquirer) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize PortAudio: %v", ErrDeviceUnavailable, err)
	}

	s := &portAudioStream{sampleRate: a.SampleRate, channels: a.Channels}
	s.cond = sync.NewCond(&s.mu)

	stream, err := portaudio.OpenDefaultStream(a.Channels, 0, float64(a.SampleRate), 1024, s.callback)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to open input stream: %v", ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to start input stream: %v", ErrDeviceUnavailable, err)
	}
	s.stream = stream

	return s, nil
}

type portAudioStream struct {
	stream     *portaudio.Stream
	sampleRate int
	channels   int

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool

	stopOnce sync.Once
	stopErr  error
}

func (s *portAudioStream) callback(in []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for _, sample := range in {
		s.buf = append(s.buf, byte(sample), byte(sample>>8))
	}
	s.cond.Broadcast()
}

func (s *portAudioStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *portAudioStream) MIMEType() string {
	return "audio/wav"
}

func (s *portAudioStream) Stop() error {
	s.stopOnce.Do(func() {
		if err := s.stream.Stop(); err != nil {
			s.stopErr = fmt.Errorf("failed to stop stream: %w", err)
		}
		if err := s.stream.Close(); err != nil && s.stopErr == nil {
			s.stopErr = fmt.Errorf("failed to close stream: %w", err)
		}
		if err := portaudio.Terminate(); err != nil && s.stopErr == nil {
			s.stopErr = fmt.Errorf("failed to terminate PortAudio: %w", err)
		}

		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	return s.stopErr
}

func (s *portAudioStream) FinalizeChunk(payload []byte) []byte {
	return wavEncode(payload, s.sampleRate, s.channels)
}

// wavEncode prefixes 16-bit PCM with a canonical 44-byte RIFF header.
func wavEncode(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	out := make([]byte, 44+len(pcm))
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], bitsPerSample)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}
