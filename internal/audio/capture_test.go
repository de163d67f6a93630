package audio

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"

	apperrors "github.com/moodsync/platform/internal/errors"
)

// fakeStream fills the shared buffer with a constant on every read.
type fakeStream struct {
	buf      []int16
	startErr error
	readErrs map[int]error // keyed by read number, starting at 1
	onRead   func(n int)
	blockOn  int // read number that blocks until Abort

	reads, stops, closes, aborts int
	abortCh                      chan struct{}
}

func (f *fakeStream) Start() error { return f.startErr }

func (f *fakeStream) Read() error {
	f.reads++
	if f.onRead != nil {
		f.onRead(f.reads)
	}
	if f.blockOn != 0 && f.reads == f.blockOn {
		<-f.abortCh
		return errors.New("stream aborted")
	}
	for i := range f.buf {
		f.buf[i] = 7
	}
	return f.readErrs[f.reads]
}

func (f *fakeStream) Stop() error  { f.stops++; return nil }
func (f *fakeStream) Close() error { f.closes++; return nil }

func (f *fakeStream) Abort() error {
	f.aborts++
	if f.abortCh != nil {
		close(f.abortCh)
	}
	return nil
}

func newTestRecorder(fs *fakeStream, openErr error) *Recorder {
	r := NewRecorder(1000)
	r.framesPerBuf = 32
	r.open = func(_ int, buf []int16) (inputStream, error) {
		if openErr != nil {
			return nil, openErr
		}
		fs.buf = buf
		return fs, nil
	}
	return r
}

func TestCaptureSuccess(t *testing.T) {
	fs := &fakeStream{}
	r := newTestRecorder(fs, nil)

	p, err := r.Capture(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if !bytes.HasPrefix(p.Data, []byte("RIFF")) {
		t.Errorf("payload does not start with RIFF header")
	}
	if p.Filename != Filename || p.ContentType != ContentType {
		t.Errorf("payload naming = %q/%q, want %q/%q", p.Filename, p.ContentType, Filename, ContentType)
	}
	if fs.reads != 4 { // 100 samples / 32 per read
		t.Errorf("reads = %d, want 4", fs.reads)
	}
	if fs.stops != 1 || fs.closes != 1 {
		t.Errorf("stops/closes = %d/%d, want 1/1", fs.stops, fs.closes)
	}

	dec := wav.NewDecoder(bytes.NewReader(p.Data))
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pcm.Data) != 100 {
		t.Errorf("decoded %d samples, want 100", len(pcm.Data))
	}
}

func TestCaptureOpenErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code apperrors.Code
	}{
		{"permission", errors.New("Permission denied by user"), apperrors.CodePermissionDenied},
		{"not authorized", errors.New("microphone access not authorized"), apperrors.CodePermissionDenied},
		{"no device", errors.New("Invalid device"), apperrors.CodeDeviceUnavailable},
		{"host error", portaudio.DeviceUnavailable, apperrors.CodeDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeStream{}
			r := newTestRecorder(fs, tt.err)
			_, err := r.Capture(context.Background(), 100*time.Millisecond)
			if !apperrors.IsCode(err, tt.code) {
				t.Errorf("Capture() error = %v, want code %s", err, tt.code)
			}
			if fs.closes != 0 {
				t.Errorf("closes = %d, want 0 for a stream never opened", fs.closes)
			}
		})
	}
}

func TestCaptureReleasesOnFailure(t *testing.T) {
	tests := []struct {
		name       string
		stream     *fakeStream
		wantStops  int
		wantCloses int
	}{
		{"start fails", &fakeStream{startErr: errors.New("start failed")}, 0, 1},
		{"read fails", &fakeStream{readErrs: map[int]error{2: errors.New("stream broke")}}, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRecorder(tt.stream, nil)
			_, err := r.Capture(context.Background(), 100*time.Millisecond)
			if !apperrors.IsCode(err, apperrors.CodeDeviceUnavailable) {
				t.Errorf("Capture() error = %v, want %s", err, apperrors.CodeDeviceUnavailable)
			}
			if tt.stream.stops != tt.wantStops || tt.stream.closes != tt.wantCloses {
				t.Errorf("stops/closes = %d/%d, want %d/%d", tt.stream.stops, tt.stream.closes, tt.wantStops, tt.wantCloses)
			}
		})
	}
}

func TestCaptureReleasesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fs := &fakeStream{onRead: func(n int) {
		if n == 2 {
			cancel()
		}
	}}
	r := newTestRecorder(fs, nil)

	_, err := r.Capture(ctx, 100*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Capture() error = %v, want context.Canceled", err)
	}
	if fs.reads != 2 {
		t.Errorf("reads = %d, want 2", fs.reads)
	}
	if fs.stops+fs.aborts != 1 || fs.closes != 1 {
		t.Errorf("stops+aborts/closes = %d/%d, want 1/1", fs.stops+fs.aborts, fs.closes)
	}
}

func TestCaptureAbortsBlockedRead(t *testing.T) {
	fs := &fakeStream{blockOn: 2, abortCh: make(chan struct{})}
	r := newTestRecorder(fs, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Capture(ctx, 100*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Capture() error = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Capture took %v after its context ended", elapsed)
	}
	if fs.aborts != 1 || fs.stops != 0 || fs.closes != 1 {
		t.Errorf("aborts/stops/closes = %d/%d/%d, want 1/0/1", fs.aborts, fs.stops, fs.closes)
	}
}

func TestCaptureNoAbortOnSuccess(t *testing.T) {
	fs := &fakeStream{}
	r := newTestRecorder(fs, nil)

	if _, err := r.Capture(context.Background(), 100*time.Millisecond); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if fs.aborts != 0 {
		t.Errorf("aborts = %d, want 0", fs.aborts)
	}
}

func TestCaptureIgnoresOverflow(t *testing.T) {
	fs := &fakeStream{readErrs: map[int]error{1: portaudio.InputOverflowed}}
	r := newTestRecorder(fs, nil)

	if _, err := r.Capture(context.Background(), 100*time.Millisecond); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if fs.closes != 1 {
		t.Errorf("closes = %d, want 1", fs.closes)
	}
}

func TestEncodeWAVRoundTrip(t *testing.T) {
	samples := []int{0, 1000, -1000, 32767, -32768}
	data, err := EncodeWAV(samples, 16000, 1)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.SampleRate != 16000 || dec.BitDepth != 16 || dec.NumChans != 1 {
		t.Errorf("format = %d Hz/%d bit/%d ch, want 16000/16/1", dec.SampleRate, dec.BitDepth, dec.NumChans)
	}
	if len(pcm.Data) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(pcm.Data), len(samples))
	}
	for i := range samples {
		if pcm.Data[i] != samples[i] {
			t.Errorf("sample[%d] = %d, want %d", i, pcm.Data[i], samples[i])
		}
	}
}

func TestSeekBuffer(t *testing.T) {
	b := &seekBuffer{}
	_, _ = b.Write([]byte("abcdef"))
	if _, err := b.Seek(2, 0); err != nil {
		t.Fatal(err)
	}
	_, _ = b.Write([]byte("XY"))
	if got := string(b.Bytes()); got != "abXYef" {
		t.Errorf("Bytes() = %q, want %q", got, "abXYef")
	}
	if _, err := b.Seek(-1, 0); err == nil {
		t.Error("negative seek should fail")
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "sample.wav")
	data, err := EncodeWAV(make([]int, 1600), 16000, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(good, data, 0o600); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(bad, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := FileSource{Path: good}.Capture(context.Background(), 0)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if p.SampleRate != 16000 || p.Channels != 1 {
		t.Errorf("format = %d/%d, want 16000/1", p.SampleRate, p.Channels)
	}
	if !bytes.Equal(p.Data, data) {
		t.Error("payload differs from file contents")
	}

	for _, path := range []string{bad, filepath.Join(dir, "missing.wav")} {
		if _, err := (FileSource{Path: path}).Capture(context.Background(), 0); !apperrors.IsCode(err, apperrors.CodeDeviceUnavailable) {
			t.Errorf("Capture(%s) error = %v, want %s", path, err, apperrors.CodeDeviceUnavailable)
		}
	}
}
