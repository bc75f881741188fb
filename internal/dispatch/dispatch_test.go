package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppewatch/internal/remote"
	"ppewatch/internal/session"
	"ppewatch/internal/simulator"
)

type harness struct {
	store  *session.Store
	sim    *simulator.Service
	client *remote.Client
	d      *Dispatcher
}

func newHarness(t *testing.T, simOpts ...simulator.Option) *harness {
	t.Helper()
	sim := simulator.New(simOpts...)
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)
	client, err := remote.New(srv.URL, remote.WithTimeout(2*time.Second))
	require.NoError(t, err)
	store := session.NewStore()
	tokens := 0
	d := New(store, client, WithTokenSource(func() string {
		tokens++
		return "tok" + string(rune('0'+tokens))
	}))
	return &harness{store: store, sim: sim, client: client, d: d}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func hasKind(records []session.Record, kind session.Kind) bool {
	for _, rec := range records {
		if rec.Kind == kind {
			return true
		}
	}
	return false
}

func TestSeedAdoptsServiceState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.client.StartCamera(ctx))
	_, err := h.client.ToggleDetection(ctx)
	require.NoError(t, err)
	h.sim.SetStatus(simulator.Status{Person: true, Helmet: true, Glasses: true, Vest: true, Gloves: true})

	out, err := h.d.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.LevelSuccess, out.Level)

	state := h.store.Read()
	assert.True(t, state.Seeded)
	assert.Equal(t, session.SourceCamera, state.Source)
	assert.Equal(t, h.client.StreamURL("tok1"), state.Media)
	assert.True(t, state.DetectionEnabled)
	assert.True(t, state.Snapshot.IsFullyCompliant())
	require.Len(t, state.Activity, 1)
	assert.Equal(t, "system started", state.Activity[0].Message)

	_, err = h.d.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, "state resynced", h.store.Read().Activity[0].Message)
}

func TestSeedFailureLeavesStoreUntouched(t *testing.T) {
	h := newHarness(t)
	h.sim.FailNext(remote.PathInitialState, http.StatusInternalServerError, "boom")

	out, err := h.d.Seed(context.Background())
	require.Error(t, err)
	assert.Equal(t, session.LevelError, out.Level)
	assert.True(t, remote.IsTransport(err))
	assert.Equal(t, session.State{}, h.store.Read())
}

func TestStartCameraFromFreshSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.d.Seed(ctx)
	require.NoError(t, err)
	before := h.store.Read()
	require.Equal(t, session.SourceNone, before.Source)
	require.False(t, before.DetectionEnabled)

	_, err = h.d.StartCamera(ctx)
	require.NoError(t, err)

	after := h.store.Read()
	assert.Equal(t, session.SourceCamera, after.Source)
	assert.Equal(t, before.Generation+1, after.Generation)
	assert.True(t, after.Snapshot.IsZero())
	assert.NotEmpty(t, after.Media)
}

func TestStartCameraTwiceIsRejectedLocally(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.d.StartCamera(ctx)
	require.NoError(t, err)

	_, err = h.d.StartCamera(ctx)
	assert.ErrorIs(t, err, ErrCameraActive)
	assert.Equal(t, 1, h.sim.Requests(remote.PathStartCamera))
}

func TestStartCameraServiceFailure(t *testing.T) {
	h := newHarness(t, simulator.WithCamera(false))
	gen := h.store.Generation()

	out, err := h.d.StartCamera(context.Background())
	require.Error(t, err)
	assert.True(t, remote.IsServiceError(err))
	assert.Contains(t, out.Message, "no camera available")
	assert.Equal(t, session.SourceNone, h.store.Read().Source)
	assert.Equal(t, gen, h.store.Generation())
}

func TestStopCameraWithoutCameraMakesNoCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.d.LoadSource(ctx, writeFile(t, "gate.png", "png"))
	require.NoError(t, err)
	before := h.store.Read()

	_, err = h.d.StopCamera(ctx)
	assert.ErrorIs(t, err, ErrCameraInactive)
	assert.True(t, IsPrecondition(err))
	assert.Equal(t, 0, h.sim.Requests(remote.PathStopCamera))
	assert.Equal(t, before, h.store.Read())
}

func TestToggleCameraRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.d.ToggleCamera(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.SourceCamera, h.store.Read().Source)
	gen := h.store.Generation()

	out, err := h.d.ToggleCamera(ctx)
	require.NoError(t, err)
	assert.Equal(t, "camera off", out.Message)
	state := h.store.Read()
	assert.Equal(t, session.SourceNone, state.Source)
	assert.Empty(t, state.Media)
	assert.Equal(t, gen+1, state.Generation)
}

func TestLoadImageUsesReturnedReference(t *testing.T) {
	h := newHarness(t)
	_, err := h.d.LoadSource(context.Background(), writeFile(t, "yard.jpg", "jpeg"))
	require.NoError(t, err)

	state := h.store.Read()
	assert.Equal(t, session.SourceImage, state.Source)
	assert.Equal(t, h.client.ResolveURL("/uploads/yard.jpg"), state.Media)
	require.NotEmpty(t, state.Activity)
	assert.Equal(t, session.KindLoaded, state.Activity[0].Kind)
	assert.Equal(t, "image loaded: yard.jpg", state.Activity[0].Message)
}

func TestLoadVideoUsesStream(t *testing.T) {
	h := newHarness(t)
	_, err := h.d.LoadSource(context.Background(), writeFile(t, "shift.mp4", "mp4"))
	require.NoError(t, err)

	state := h.store.Read()
	assert.Equal(t, session.SourceVideo, state.Source)
	assert.Equal(t, h.client.StreamURL("tok1"), state.Media)
}

func TestLoadUnsupportedTypeKeepsSource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.d.StartCamera(ctx)
	require.NoError(t, err)
	before := h.store.Read()

	out, err := h.d.LoadSource(ctx, writeFile(t, "notes.txt", "text"))
	require.Error(t, err)
	assert.True(t, remote.IsServiceError(err))
	assert.Equal(t, session.LevelError, out.Level)
	assert.NotEmpty(t, out.Message)

	after := h.store.Read()
	assert.Equal(t, session.SourceCamera, after.Source)
	assert.Equal(t, before.Generation, after.Generation)
	assert.False(t, hasKind(after.Activity, session.KindLoaded))
}

func TestLoadMissingFileMakesNoCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.d.LoadSource(ctx, "  ")
	assert.ErrorIs(t, err, ErrNoFile)

	_, err = h.d.LoadSource(ctx, filepath.Join(t.TempDir(), "missing.png"))
	assert.ErrorIs(t, err, ErrNoFile)

	_, err = h.d.LoadSource(ctx, t.TempDir())
	assert.ErrorIs(t, err, ErrNoFile)

	assert.Equal(t, 0, h.sim.Requests(remote.PathUpload))
}

func TestToggleDetectionAlwaysBumpsGeneration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.d.StartCamera(ctx)
	require.NoError(t, err)

	gen := h.store.Generation()
	_, err = h.d.ToggleDetection(ctx)
	require.NoError(t, err)
	assert.True(t, h.store.Read().DetectionEnabled)
	assert.Equal(t, gen+1, h.store.Generation())

	h.store.Apply(func(s *session.Draft) {
		s.Snapshot = session.Snapshot{PersonPresent: true, Items: [session.ItemCount]bool{true, true, true, true}}
	})
	out, err := h.d.ToggleDetection(ctx)
	require.NoError(t, err)
	assert.Equal(t, "detection off", out.Message)
	state := h.store.Read()
	assert.False(t, state.DetectionEnabled)
	assert.True(t, state.Snapshot.IsZero())
	assert.Equal(t, gen+2, state.Generation)
}

func TestToggleDetectionAdoptsServiceFlag(t *testing.T) {
	h := newHarness(t)
	h.sim.SetDetection(true)
	h.store.Apply(func(s *session.Draft) { s.DetectionEnabled = true })

	_, err := h.d.ToggleDetection(context.Background())
	require.NoError(t, err)
	assert.False(t, h.store.Read().DetectionEnabled)

	h.sim.SetDetection(true)
	_, err = h.d.ToggleDetection(context.Background())
	require.NoError(t, err)
	assert.False(t, h.store.Read().DetectionEnabled, "local flag follows the service answer")
}

func TestToggleRecognitionKeepsGeneration(t *testing.T) {
	h := newHarness(t)
	gen := h.store.Generation()

	_, err := h.d.ToggleRecognition(context.Background())
	require.NoError(t, err)
	state := h.store.Read()
	assert.True(t, state.RecognitionEnabled)
	assert.Equal(t, gen, state.Generation)
	assert.Equal(t, session.KindRecognition, state.Activity[0].Kind)
}

func TestCaptureWithoutSourceMakesNoCall(t *testing.T) {
	h := newHarness(t)

	out, err := h.d.CaptureFrame(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveSource)
	assert.Equal(t, "no active source", out.Message)
	assert.Equal(t, 0, h.sim.Requests(remote.PathCaptureFrame))
	assert.Empty(t, h.store.Read().Activity)
}

func TestCaptureRecordsFilename(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.d.StartCamera(ctx)
	require.NoError(t, err)

	_, err = h.d.CaptureFrame(ctx)
	require.NoError(t, err)
	captures := h.sim.Captures()
	require.Len(t, captures, 1)
	assert.Equal(t, "captured: "+captures[0], h.store.Read().Activity[0].Message)
}

func TestResetClearsToDefaults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.d.Seed(ctx)
	require.NoError(t, err)
	_, err = h.d.StartCamera(ctx)
	require.NoError(t, err)
	_, err = h.d.ToggleDetection(ctx)
	require.NoError(t, err)
	_, err = h.d.ToggleRecognition(ctx)
	require.NoError(t, err)
	gen := h.store.Generation()

	_, err = h.d.Reset(ctx)
	require.NoError(t, err)

	state := h.store.Read()
	assert.Equal(t, session.SourceNone, state.Source)
	assert.Empty(t, state.Media)
	assert.False(t, state.DetectionEnabled)
	assert.False(t, state.RecognitionEnabled)
	assert.True(t, state.Snapshot.IsZero())
	assert.True(t, state.Seeded)
	assert.Equal(t, gen+1, state.Generation)
	assert.Equal(t, session.KindReset, state.Activity[0].Kind)
	assert.Len(t, state.Activity, 5)
}

func TestResetFailureLeavesState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.d.StartCamera(ctx)
	require.NoError(t, err)
	before := h.store.Read()
	h.sim.FailNext(remote.PathResetSystem, http.StatusBadGateway, "down")

	_, err = h.d.Reset(ctx)
	require.Error(t, err)
	assert.Equal(t, before, h.store.Read())
}

func TestOpenRecords(t *testing.T) {
	h := newHarness(t)
	out, err := h.d.OpenRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "records opened", out.Message)
	assert.Equal(t, session.KindRecords, h.store.Read().Activity[0].Kind)
}

func TestVerifyMediaDropsLostFeed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.d.StartCamera(ctx)
	require.NoError(t, err)

	_, err = h.d.VerifyMedia(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.SourceCamera, h.store.Read().Source)

	require.NoError(t, h.client.StopCamera(ctx))
	gen := h.store.Generation()
	out, err := h.d.VerifyMedia(ctx)
	require.Error(t, err)
	assert.Equal(t, session.LevelError, out.Level)
	state := h.store.Read()
	assert.Equal(t, session.SourceNone, state.Source)
	assert.Empty(t, state.Media)
	assert.Equal(t, gen+1, state.Generation)
	assert.Equal(t, session.LevelError, state.Activity[0].Level)
}

func TestVerifyMediaSupersededByCommand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.d.StartCamera(ctx)
	require.NoError(t, err)
	require.NoError(t, h.client.StopCamera(ctx))

	release := h.sim.Hold(remote.PathVideoFeed)
	h.sim.FailNext(remote.PathVideoFeed, http.StatusServiceUnavailable, "gone")
	done := make(chan error, 1)
	go func() {
		_, err := h.d.VerifyMedia(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return h.sim.Requests(remote.PathVideoFeed) == 1
	}, time.Second, 5*time.Millisecond)
	_, err = h.d.LoadSource(ctx, writeFile(t, "gate.png", "png"))
	require.NoError(t, err)
	release()

	require.NoError(t, <-done)
	assert.Equal(t, session.SourceImage, h.store.Read().Source)
}

func TestVerifyMediaWithoutSourceIsNoop(t *testing.T) {
	h := newHarness(t)
	out, err := h.d.VerifyMedia(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Outcome{}, out)
	assert.Equal(t, 0, h.sim.Requests(remote.PathVideoFeed))
}
