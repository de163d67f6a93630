// Package audio records fixed-length voice samples from the microphone
package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/moodsync/platform/internal/errors"
	"github.com/moodsync/platform/internal/trace"
)

// Payload is an encoded voice sample ready for upload. It lives in memory only.
type Payload struct {
	Data        []byte
	Filename    string
	ContentType string
	SampleRate  int
	Channels    int
	Duration    time.Duration
}

// inputStream is the subset of *portaudio.Stream the recorder drives.
type inputStream interface {
	Start() error
	Read() error
	Stop() error
	Abort() error
	Close() error
}

// openFunc opens a mono input stream that fills buf on every Read.
type openFunc func(sampleRate int, buf []int16) (inputStream, error)

// Recorder captures fixed-duration voice samples.
type Recorder struct {
	sampleRate   int
	framesPerBuf int
	device       string
	excludedDevs []string
	open         openFunc
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithDevice selects the input device whose name contains name.
func WithDevice(name string) Option {
	return func(r *Recorder) { r.device = name }
}

// WithExcludedDevices skips devices whose names contain any of names.
func WithExcludedDevices(names []string) Option {
	return func(r *Recorder) { r.excludedDevs = names }
}

// NewRecorder creates a recorder backed by the host audio system.
func NewRecorder(sampleRate int, opts ...Option) *Recorder {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	r := &Recorder{
		sampleRate:   sampleRate,
		framesPerBuf: FramesPerBuffer,
	}
	for _, o := range opts {
		o(r)
	}
	r.open = r.openDevice
	return r
}

// SampleRate returns the recording sample rate.
func (r *Recorder) SampleRate() int { return r.sampleRate }

// Capture records d of mono audio and returns it as WAV. The stream is
// stopped and closed and the host released on every return path.
func (r *Recorder) Capture(ctx context.Context, d time.Duration) (Payload, error) {
	if d <= 0 {
		d = DefaultDuration
	}
	ctx, span := trace.StartSpan(ctx, "audio_capture")
	defer span.End()
	log := trace.Logger(ctx)

	target := int(float64(r.sampleRate) * d.Seconds())
	buf := make([]int16, r.framesPerBuf)

	stream, err := r.open(r.sampleRate, buf)
	if err != nil {
		span.SetAttr("error", err.Error())
		return Payload{}, classify(err, "open input device")
	}
	dc := &deviceCapture{stream: stream}
	defer dc.stop()

	if err := stream.Start(); err != nil {
		span.SetAttr("error", err.Error())
		return Payload{}, classify(err, "start input stream")
	}
	dc.started = true

	recCtx, cancel := context.WithTimeout(ctx, d+CaptureGrace)
	defer cancel()
	defer dc.watch(recCtx)()

	samples := make([]int, 0, target)
	for len(samples) < target {
		if err := interrupted(ctx, recCtx); err != nil {
			return Payload{}, err
		}
		if err := stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			if ierr := interrupted(ctx, recCtx); ierr != nil {
				return Payload{}, ierr
			}
			span.SetAttr("error", err.Error())
			return Payload{}, classify(err, "read input stream")
		}
		for _, s := range buf {
			if len(samples) == target {
				break
			}
			samples = append(samples, int(s))
		}
	}
	dc.stop()

	data, err := EncodeWAV(samples, r.sampleRate, Channels)
	if err != nil {
		return Payload{}, apperrors.Wrap(err, apperrors.CodeInternal, "encode wav")
	}
	span.SetAttr("samples", len(samples))
	span.SetAttr("bytes", len(data))
	log.Debug("voice sample recorded", "samples", len(samples), "bytes", len(data))

	return Payload{
		Data:        data,
		Filename:    Filename,
		ContentType: ContentType,
		SampleRate:  r.sampleRate,
		Channels:    Channels,
		Duration:    d,
	}, nil
}

// deviceCapture releases a stream exactly once. A blocked Read is
// unblocked by aborting the stream from another goroutine.
type deviceCapture struct {
	stream  inputStream
	started bool

	mu       sync.Mutex
	aborted  bool
	released bool
}

func (d *deviceCapture) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return
	}
	d.released = true
	if d.started && !d.aborted {
		_ = d.stream.Stop()
	}
	_ = d.stream.Close()
}

func (d *deviceCapture) abort() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released || d.aborted || !d.started {
		return
	}
	d.aborted = true
	_ = d.stream.Abort()
}

// watch aborts the stream once ctx is done. The returned func ends the
// watch and waits for it to exit.
func (d *deviceCapture) watch(ctx context.Context) func() {
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			d.abort()
		case <-quit:
		}
	}()
	return func() {
		close(quit)
		<-done
	}
}

// interrupted reports why recording must end early, if it must. Caller
// cancellation wins over the recording bound.
func interrupted(ctx, recCtx context.Context) error {
	if recCtx.Err() == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return apperrors.Wrap(recCtx.Err(), apperrors.CodeDeviceUnavailable, "input device stalled")
}

// hostStream ties the host audio lifetime to the stream.
type hostStream struct {
	*portaudio.Stream
}

func (h hostStream) Close() error {
	err := h.Stream.Close()
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	return err
}

func (r *Recorder) openDevice(sampleRate int, buf []int16) (inputStream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}

	dev, err := r.selectDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: len(buf),
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	slog.Debug("opened input device", "device", dev.Name, "sample_rate", sampleRate)
	return hostStream{stream}, nil
}

func (r *Recorder) selectDevice() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if dev := pickDevice(devices, r.device, r.excludedDevs); dev != nil {
		return dev, nil
	}
	if r.device != "" {
		return nil, errors.New("configured input device not found: " + r.device)
	}
	return portaudio.DefaultInputDevice()
}

// classify maps host audio failures onto capture error codes.
func classify(err error, msg string) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	text := err.Error()
	for _, kw := range []string{"permission", "denied", "not authorized", "not permitted"} {
		if containsIgnoreCase(text, kw) {
			return apperrors.Wrap(err, apperrors.CodePermissionDenied, msg)
		}
	}
	return apperrors.Wrap(err, apperrors.CodeDeviceUnavailable, msg)
}
