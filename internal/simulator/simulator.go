// Package simulator serves a stand-in for the PPE detection service. It
// follows the detection service's routes and response shapes closely enough
// for the client to be exercised end to end without a camera or a model.
package simulator

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxUploadBytes = 50 << 20

var (
	imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true}
	videoExts = map[string]bool{".mp4": true, ".avi": true, ".mov": true, ".mkv": true}
)

// Status is what the detector currently sees.
type Status struct {
	Person  bool
	Helmet  bool
	Glasses bool
	Vest    bool
	Gloves  bool
}

func (s Status) wire() map[string]bool {
	return map[string]bool{
		"persona": s.Person,
		"casco":   s.Helmet,
		"gafas":   s.Glasses,
		"chaleco": s.Vest,
		"guantes": s.Gloves,
		"safe":    s.Helmet && s.Glasses && s.Vest && s.Gloves,
	}
}

type injectedFailure struct {
	code    int
	message string
}

// Service is the simulated backend. The zero value is not usable; call New.
type Service struct {
	mu                sync.Mutex
	detectionActive   bool
	recognitionActive bool
	currentSource     string
	hasFrame          bool
	status            Status
	uploads           map[string][]byte
	captures          []string
	cameraAvailable   bool
	failures          map[string]injectedFailure
	holds             map[string]chan struct{}
	requests          map[string]int
	now               func() time.Time
	log               zerolog.Logger
}

type Option func(*Service)

// WithCamera controls whether start_camera finds a device.
func WithCamera(available bool) Option {
	return func(s *Service) { s.cameraAvailable = available }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func New(opts ...Option) *Service {
	s := &Service{
		uploads:         map[string][]byte{},
		cameraAvailable: true,
		failures:        map[string]injectedFailure{},
		holds:           map[string]chan struct{}{},
		requests:        map[string]int{},
		now:             time.Now,
		log:             zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetStatus replaces what the detector reports while detection is active.
func (s *Service) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// SetDetection flips detection on the service side without a client call.
func (s *Service) SetDetection(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectionActive = active
}

// Randomize draws a new detector reading, as if a new frame was processed.
// People usually wear most of their equipment.
func (s *Service) Randomize(rng *rand.Rand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.detectionActive || s.currentSource == "" {
		return
	}
	worn := func() bool { return rng.Float64() < 0.8 }
	if rng.Float64() < 0.15 {
		s.status = Status{}
		return
	}
	s.status = Status{Person: true, Helmet: worn(), Glasses: worn(), Vest: worn(), Gloves: worn()}
}

// FailNext makes the next request to route answer with code and a JSON error.
func (s *Service) FailNext(route string, code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = injectedFailure{code: code, message: message}
}

// Hold parks the next request to route until release is called. The request
// is handled normally once released.
func (s *Service) Hold(route string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.holds[route] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Requests counts the requests seen on route.
func (s *Service) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// Captures lists saved capture names, oldest first.
func (s *Service) Captures() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.captures...)
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /get_initial_state", s.handleInitialState)
	mux.HandleFunc("POST /upload_file", s.handleUpload)
	mux.HandleFunc("GET /uploads/{name}", s.handleUploaded)
	mux.HandleFunc("POST /start_camera", s.handleStartCamera)
	mux.HandleFunc("POST /stop_camera", s.handleStopCamera)
	mux.HandleFunc("POST /toggle_detection", s.handleToggleDetection)
	mux.HandleFunc("POST /toggle_recognition", s.handleToggleRecognition)
	mux.HandleFunc("POST /capture_frame", s.handleCapture)
	mux.HandleFunc("GET /get_detection_status", s.handleDetectionStatus)
	mux.HandleFunc("POST /reset_system", s.handleReset)
	mux.HandleFunc("GET /open_excel", s.handleOpenRecords)
	mux.HandleFunc("GET /video_feed", s.handleVideoFeed)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "endpoint not found"})
	})
	return s.intercept(mux)
}

func (s *Service) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		s.mu.Lock()
		s.requests[route]++
		hold, held := s.holds[route]
		delete(s.holds, route)
		injected, failing := s.failures[route]
		delete(s.failures, route)
		s.mu.Unlock()

		s.log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Str("request_id", r.Header.Get("X-Request-ID")).
			Msg("request")

		if held {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}
		if failing {
			writeJSON(w, injected.code, failure(injected.message))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleInitialState(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var source any
	if s.currentSource != "" {
		source = s.currentSource
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"detection_active":   s.detectionActive,
		"recognition_active": s.recognitionActive,
		"current_source":     source,
		"epp_status":         s.visibleStatusLocked().wire(),
	})
}

func (s *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusOK, failure("No file provided"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusOK, failure("No file provided"))
		return
	}
	defer file.Close()

	name := path.Base(filepath.ToSlash(strings.TrimSpace(header.Filename)))
	if name == "" || name == "." || name == "/" {
		writeJSON(w, http.StatusOK, failure("No file selected"))
		return
	}
	ext := strings.ToLower(filepath.Ext(name))
	kind := ""
	switch {
	case imageExts[ext]:
		kind = "image"
	case videoExts[ext]:
		kind = "video"
	default:
		writeJSON(w, http.StatusOK, failure(fmt.Sprintf("unsupported file type %q", ext)))
		return
	}
	content, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusOK, failure(err.Error()))
		return
	}
	if len(content) == 0 {
		writeJSON(w, http.StatusOK, failure(fmt.Sprintf("Invalid %s file", kind)))
		return
	}

	s.mu.Lock()
	s.uploads[name] = content
	s.currentSource = kind
	s.hasFrame = true
	s.mu.Unlock()

	var ref any
	if kind == "image" {
		ref = "/uploads/" + name
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"type":     kind,
		"filename": name,
		"url":      ref,
	})
}

func (s *Service) handleUploaded(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	content, ok := s.uploads[r.PathValue("name")]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, failure("File not found"))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(content)
}

func (s *Service) handleStartCamera(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cameraAvailable {
		writeJSON(w, http.StatusOK, failure("no camera available"))
		return
	}
	s.currentSource = "camera"
	s.hasFrame = true
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "camera_index": 0})
}

func (s *Service) handleStopCamera(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentSource == "camera" {
		s.currentSource = ""
		s.hasFrame = false
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Service) handleToggleDetection(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectionActive = !s.detectionActive
	if !s.detectionActive {
		s.status = Status{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "active": s.detectionActive})
}

func (s *Service) handleToggleRecognition(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recognitionActive = !s.recognitionActive
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "active": s.recognitionActive})
}

func (s *Service) handleCapture(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasFrame {
		writeJSON(w, http.StatusOK, failure("no active frame to capture"))
		return
	}
	name := fmt.Sprintf("capture_%s_%s.jpg", s.now().Format("20060102_150405"), uuid.NewString()[:8])
	s.captures = append(s.captures, name)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "filename": name})
}

func (s *Service) handleDetectionStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.visibleStatusLocked().wire())
}

func (s *Service) handleReset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectionActive = false
	s.recognitionActive = false
	s.currentSource = ""
	s.hasFrame = false
	s.status = Status{}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Service) handleOpenRecords(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Service) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	source := s.currentSource
	s.mu.Unlock()
	if source == "" {
		http.Error(w, "no active source", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = fmt.Fprintf(w, "simulated %s stream\n", source)
}

func (s *Service) visibleStatusLocked() Status {
	if !s.detectionActive {
		return Status{}
	}
	if s.currentSource == "" {
		return Status{}
	}
	return s.status
}

func failure(message string) map[string]any {
	return map[string]any{"success": false, "error": message}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
