package audio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	apperrors "github.com/moodsync/platform/internal/errors"
)

// EncodeWAV encodes 16-bit PCM samples as a WAV file in memory.
func EncodeWAV(samples []int, sampleRate, channels int) ([]byte, error) {
	out := &seekBuffer{}
	enc := wav.NewEncoder(out, sampleRate, BitDepth, channels, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		Data:           samples,
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// seekBuffer is an in-memory io.WriteSeeker; the WAV encoder seeks back to
// patch chunk sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.buf) {
		b.buf = append(b.buf, make([]byte, end-len(b.buf))...)
	}
	copy(b.buf[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(b.pos) + offset
	case io.SeekEnd:
		abs = int64(len(b.buf)) + offset
	default:
		return 0, errors.New("seekBuffer: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seekBuffer: negative position")
	}
	b.pos = int(abs)
	return abs, nil
}

func (b *seekBuffer) Bytes() []byte { return b.buf }

// FileSource serves a prerecorded WAV file instead of the microphone.
type FileSource struct {
	Path string
}

// Capture reads the file; the duration argument is ignored.
func (f FileSource) Capture(ctx context.Context, _ time.Duration) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return Payload{}, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return Payload{}, apperrors.Wrap(err, apperrors.CodePermissionDenied, "read audio file")
		}
		return Payload{}, apperrors.Wrap(err, apperrors.CodeDeviceUnavailable, "read audio file")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Payload{}, apperrors.Newf(apperrors.CodeDeviceUnavailable, "not a wav file: %s", f.Path)
	}
	dur, err := dec.Duration()
	if err != nil {
		dur = 0
	}
	return Payload{
		Data:        data,
		Filename:    Filename,
		ContentType: ContentType,
		SampleRate:  int(dec.SampleRate),
		Channels:    int(dec.NumChans),
		Duration:    dur,
	}, nil
}
