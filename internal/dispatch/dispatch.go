// Package dispatch turns operator intents into service calls and applies the
// service's answer to the session store. Local flags are advisory: every
// command adopts what the service returns instead of flipping state itself.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ppewatch/internal/remote"
	"ppewatch/internal/session"
)

var (
	ErrNoFile         = errors.New("no file chosen")
	ErrNoActiveSource = errors.New("no active source")
	ErrCameraActive   = errors.New("camera already active")
	ErrCameraInactive = errors.New("camera not active")
)

// PreconditionError is a command rejected before anything was sent.
type PreconditionError struct {
	Op     string
	Err    error
	Detail string
}

func (e *PreconditionError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

func IsPrecondition(err error) bool {
	var pre *PreconditionError
	return errors.As(err, &pre)
}

// Service is the part of the remote client the dispatcher drives.
type Service interface {
	InitialState(ctx context.Context) (remote.InitialState, error)
	Upload(ctx context.Context, filename string, content io.Reader) (remote.Upload, error)
	StartCamera(ctx context.Context) error
	StopCamera(ctx context.Context) error
	ToggleDetection(ctx context.Context) (bool, error)
	ToggleRecognition(ctx context.Context) (bool, error)
	CaptureFrame(ctx context.Context) (string, error)
	ResetSystem(ctx context.Context) error
	OpenRecords(ctx context.Context) error
	ProbeMedia(ctx context.Context, mediaURL string) error
	StreamURL(token string) string
	ResolveURL(ref string) string
}

// Outcome is what the operator is told after a command.
type Outcome struct {
	Level   session.Level
	Message string
}

type Dispatcher struct {
	store *session.Store
	svc   Service
	token func() string
	log   zerolog.Logger
}

type Option func(*Dispatcher)

func WithLogger(log zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// WithTokenSource sets how stream cache-busting tokens are minted.
func WithTokenSource(token func() string) Option {
	return func(d *Dispatcher) {
		if token != nil {
			d.token = token
		}
	}
}

func New(store *session.Store, svc Service, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store: store,
		svc:   svc,
		token: uuid.NewString,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) fail(op string, err error) (Outcome, error) {
	if !IsPrecondition(err) {
		d.log.Warn().Str("op", op).Err(err).Msg("command failed")
	}
	return Outcome{Level: session.LevelError, Message: failureMessage(op, err)}, err
}

func failureMessage(op string, err error) string {
	var svcErr *remote.ServiceError
	switch {
	case errors.As(err, &svcErr) && svcErr.Message != "":
		return fmt.Sprintf("%s failed: %s", op, svcErr.Message)
	case errors.Is(err, ErrNoActiveSource):
		return "no active source"
	case IsPrecondition(err):
		return err.Error()
	case remote.IsTransport(err):
		return op + " failed: connection error"
	case remote.IsMalformed(err):
		return op + " failed: unexpected response"
	default:
		return op + " failed"
	}
}

// Seed adopts the service's current state. It runs at startup and whenever
// the operator asks for a resync.
func (d *Dispatcher) Seed(ctx context.Context) (Outcome, error) {
	const op = "sync"
	initial, err := d.svc.InitialState(ctx)
	if err != nil {
		return d.fail(op, err)
	}
	source := session.ParseSource(initial.CurrentSource)
	media := ""
	if source != session.SourceNone {
		media = d.svc.StreamURL(d.token())
	}
	first := false
	state := d.store.Apply(func(s *session.Draft) {
		first = !s.Seeded
		s.Source = source
		s.Media = media
		s.DetectionEnabled = initial.DetectionActive
		s.RecognitionEnabled = initial.RecognitionActive
		s.Snapshot = session.Snapshot{}
		if initial.DetectionActive && initial.Status != nil {
			s.Snapshot = initial.Status.Snapshot()
		}
		s.Seeded = true
		s.Invalidate()
		if first {
			s.Record(session.LevelSuccess, session.KindSystem, "system started")
		} else {
			s.Record(session.LevelInfo, session.KindSystem, "state resynced")
		}
	})
	d.log.Info().
		Str("source", state.Source.String()).
		Bool("detection", state.DetectionEnabled).
		Bool("recognition", state.RecognitionEnabled).
		Uint64("generation", state.Generation).
		Msg("session seeded")
	if first {
		return Outcome{Level: session.LevelSuccess, Message: "PPE monitor ready"}, nil
	}
	return Outcome{Level: session.LevelInfo, Message: "state resynced"}, nil
}

// Resync discards local state in favour of the service's.
func (d *Dispatcher) Resync(ctx context.Context) (Outcome, error) {
	return d.Seed(ctx)
}

// LoadSource uploads a local image or video and makes it the active source.
func (d *Dispatcher) LoadSource(ctx context.Context, path string) (Outcome, error) {
	const op = "load source"
	path = strings.TrimSpace(path)
	if path == "" {
		return d.fail(op, &PreconditionError{Op: op, Err: ErrNoFile})
	}
	info, err := os.Stat(path)
	if err != nil {
		return d.fail(op, &PreconditionError{Op: op, Err: ErrNoFile, Detail: err.Error()})
	}
	if !info.Mode().IsRegular() {
		return d.fail(op, &PreconditionError{Op: op, Err: ErrNoFile, Detail: path + " is not a regular file"})
	}
	f, err := os.Open(path)
	if err != nil {
		return d.fail(op, &PreconditionError{Op: op, Err: ErrNoFile, Detail: err.Error()})
	}
	defer f.Close()

	up, err := d.svc.Upload(ctx, filepath.Base(path), f)
	if err != nil {
		return d.fail(op, err)
	}
	source := session.ParseSource(up.Type)
	media := d.svc.StreamURL(d.token())
	if source == session.SourceImage {
		media = d.svc.ResolveURL(up.URL)
	}
	d.store.Apply(func(s *session.Draft) {
		s.Source = source
		s.Media = media
		s.Snapshot = session.Snapshot{}
		s.Invalidate()
		s.Record(session.LevelInfo, session.KindLoaded, fmt.Sprintf("%s loaded: %s", source, up.Filename))
	})
	return Outcome{Level: session.LevelSuccess, Message: fmt.Sprintf("%s loaded", source)}, nil
}

func (d *Dispatcher) StartCamera(ctx context.Context) (Outcome, error) {
	const op = "start camera"
	if d.store.Read().Source == session.SourceCamera {
		return d.fail(op, &PreconditionError{Op: op, Err: ErrCameraActive})
	}
	if err := d.svc.StartCamera(ctx); err != nil {
		return d.fail(op, err)
	}
	media := d.svc.StreamURL(d.token())
	d.store.Apply(func(s *session.Draft) {
		s.Source = session.SourceCamera
		s.Media = media
		s.Snapshot = session.Snapshot{}
		s.Invalidate()
		s.Record(session.LevelSuccess, session.KindCamera, "camera on")
	})
	return Outcome{Level: session.LevelSuccess, Message: "camera on"}, nil
}

// StopCamera is rejected locally, with no call and no state change, unless
// the camera is the active source.
func (d *Dispatcher) StopCamera(ctx context.Context) (Outcome, error) {
	const op = "stop camera"
	if d.store.Read().Source != session.SourceCamera {
		return d.fail(op, &PreconditionError{Op: op, Err: ErrCameraInactive})
	}
	if err := d.svc.StopCamera(ctx); err != nil {
		return d.fail(op, err)
	}
	d.store.Apply(func(s *session.Draft) {
		s.Source = session.SourceNone
		s.Snapshot = session.Snapshot{}
		s.Invalidate()
		s.Record(session.LevelInfo, session.KindCamera, "camera off")
	})
	return Outcome{Level: session.LevelInfo, Message: "camera off"}, nil
}

// ToggleCamera starts or stops the camera depending on the current source.
func (d *Dispatcher) ToggleCamera(ctx context.Context) (Outcome, error) {
	if d.store.Read().Source == session.SourceCamera {
		return d.StopCamera(ctx)
	}
	return d.StartCamera(ctx)
}

func (d *Dispatcher) ToggleDetection(ctx context.Context) (Outcome, error) {
	const op = "toggle detection"
	active, err := d.svc.ToggleDetection(ctx)
	if err != nil {
		return d.fail(op, err)
	}
	d.store.Apply(func(s *session.Draft) {
		s.DetectionEnabled = active
		if !active {
			s.Snapshot = session.Snapshot{}
		}
		s.Invalidate()
		s.Record(session.LevelInfo, session.KindDetection, "PPE detection "+onOff(active))
	})
	return Outcome{Level: levelFor(active), Message: "detection " + onOff(active)}, nil
}

func (d *Dispatcher) ToggleRecognition(ctx context.Context) (Outcome, error) {
	const op = "toggle recognition"
	active, err := d.svc.ToggleRecognition(ctx)
	if err != nil {
		return d.fail(op, err)
	}
	d.store.Apply(func(s *session.Draft) {
		s.RecognitionEnabled = active
		s.Record(session.LevelInfo, session.KindRecognition, "recognition "+onOff(active))
	})
	return Outcome{Level: levelFor(active), Message: "recognition " + onOff(active)}, nil
}

func (d *Dispatcher) CaptureFrame(ctx context.Context) (Outcome, error) {
	const op = "capture"
	if d.store.Read().Source == session.SourceNone {
		return d.fail(op, &PreconditionError{Op: op, Err: ErrNoActiveSource})
	}
	name, err := d.svc.CaptureFrame(ctx)
	if err != nil {
		return d.fail(op, err)
	}
	if name == "" {
		name = "frame"
	}
	d.store.Apply(func(s *session.Draft) {
		s.Record(session.LevelSuccess, session.KindCapture, "captured: "+name)
	})
	return Outcome{Level: session.LevelSuccess, Message: "captured: " + name}, nil
}

// Reset clears the service and mirrors the cleared state locally.
func (d *Dispatcher) Reset(ctx context.Context) (Outcome, error) {
	const op = "reset"
	if err := d.svc.ResetSystem(ctx); err != nil {
		return d.fail(op, err)
	}
	d.store.Apply(func(s *session.Draft) {
		s.Reset()
		s.Seeded = true
		s.Record(session.LevelWarning, session.KindReset, "system reset")
	})
	return Outcome{Level: session.LevelInfo, Message: "system reset"}, nil
}

func (d *Dispatcher) OpenRecords(ctx context.Context) (Outcome, error) {
	const op = "open records"
	if err := d.svc.OpenRecords(ctx); err != nil {
		return d.fail(op, err)
	}
	d.store.Apply(func(s *session.Draft) {
		s.Record(session.LevelInfo, session.KindRecords, "records opened")
	})
	return Outcome{Level: session.LevelSuccess, Message: "records opened"}, nil
}

// VerifyMedia probes the current media surface. When it is gone the source is
// dropped, unless another command replaced the source while the probe ran.
func (d *Dispatcher) VerifyMedia(ctx context.Context) (Outcome, error) {
	const op = "media"
	current := d.store.Read()
	if current.Source == session.SourceNone || current.Media == "" {
		return Outcome{}, nil
	}
	probeErr := d.svc.ProbeMedia(ctx, current.Media)
	if probeErr == nil {
		return Outcome{}, nil
	}
	if remote.IsCanceled(probeErr) {
		return Outcome{}, probeErr
	}
	_, applied := d.store.ApplyAt(current.Generation, func(s *session.Draft) {
		s.Source = session.SourceNone
		s.Snapshot = session.Snapshot{}
		s.Record(session.LevelError, session.KindSystem, "media error: "+current.Source.String()+" feed lost")
	})
	if !applied {
		d.log.Debug().Err(probeErr).Msg("media probe superseded")
		return Outcome{}, nil
	}
	return d.fail(op, probeErr)
}

func onOff(active bool) string {
	if active {
		return "on"
	}
	return "off"
}

func levelFor(active bool) session.Level {
	if active {
		return session.LevelSuccess
	}
	return session.LevelInfo
}
