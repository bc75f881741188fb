package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ppewatch/internal/session"
)

const (
	PathInitialState      = "/get_initial_state"
	PathUpload            = "/upload_file"
	PathStartCamera       = "/start_camera"
	PathStopCamera        = "/stop_camera"
	PathToggleDetection   = "/toggle_detection"
	PathToggleRecognition = "/toggle_recognition"
	PathCaptureFrame      = "/capture_frame"
	PathDetectionStatus   = "/get_detection_status"
	PathResetSystem       = "/reset_system"
	PathOpenRecords       = "/open_excel"
	PathVideoFeed         = "/video_feed"

	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 1 << 20
	uploadField    = "file"
)

// RequestIDHeader carries a per-call id so client and service logs line up.
const RequestIDHeader = "X-Request-ID"

// Client talks to the detection service over HTTP/JSON.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	log     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds every call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse service url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("service url %q: scheme must be http or https", baseURL)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("service url %q: missing host", baseURL)
	}
	c := &Client{
		base:    parsed,
		http:    &http.Client{},
		timeout: defaultTimeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ResolveURL turns a service-relative reference such as "/uploads/a.png" into
// an absolute URL. Absolute references are returned unchanged.
func (c *Client) ResolveURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.base.ResolveReference(parsed).String()
}

// StreamURL is the live media feed with a cache-busting token, so a viewer
// re-fetches it whenever the source changes.
func (c *Client) StreamURL(token string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + PathVideoFeed
	q := url.Values{}
	if token != "" {
		q.Set("t", token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

// do sends one request and returns the raw body of a 2xx response.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Str("op", op).Str("request_id", requestID).Err(err).Msg("service call failed")
		return nil, fmt.Errorf("%s: %w: %s %s: %w", op, ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, transportErr(op, "read body: %v", err)
	}
	c.log.Debug().
		Str("op", op).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("service call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &failure) == nil && strings.TrimSpace(failure.Error) != "" {
			return nil, transportErr(op, "http %d: %s", resp.StatusCode, failure.Error)
		}
		return nil, transportErr(op, "http %d", resp.StatusCode)
	}
	return payload, nil
}

func decode[T any](op string, payload []byte) (T, error) {
	var out T
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return out, malformedErr(op, "expected a JSON object")
	}
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return out, malformedErr(op, "%v", err)
	}
	return out, nil
}

// ack is the common {success, error} envelope.
type ack struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

func (a ack) check(op string) error {
	if a.Success == nil {
		return malformedErr(op, "missing success flag")
	}
	if !*a.Success {
		return &ServiceError{Op: op, Message: strings.TrimSpace(a.Error)}
	}
	return nil
}

func (c *Client) call(ctx context.Context, op, method, path string) error {
	payload, err := c.do(ctx, op, method, path, nil, "")
	if err != nil {
		return err
	}
	resp, err := decode[ack](op, payload)
	if err != nil {
		return err
	}
	return resp.check(op)
}

// InitialState is the service's view at startup.
type InitialState struct {
	DetectionActive   bool
	RecognitionActive bool
	CurrentSource     string
	// Status is set when the service includes its current detection status.
	Status *DetectionStatus
}

func (c *Client) InitialState(ctx context.Context) (InitialState, error) {
	const op = "initial state"
	payload, err := c.do(ctx, op, http.MethodGet, PathInitialState, nil, "")
	if err != nil {
		return InitialState{}, err
	}
	resp, err := decode[struct {
		DetectionActive   bool             `json:"detection_active"`
		RecognitionActive bool             `json:"recognition_active"`
		CurrentSource     *string          `json:"current_source"`
		EPPStatus         *DetectionStatus `json:"epp_status"`
	}](op, payload)
	if err != nil {
		return InitialState{}, err
	}
	out := InitialState{
		DetectionActive:   resp.DetectionActive,
		RecognitionActive: resp.RecognitionActive,
		Status:            resp.EPPStatus,
	}
	if resp.CurrentSource != nil {
		out.CurrentSource = strings.TrimSpace(*resp.CurrentSource)
	}
	return out, nil
}

// Upload is the service's answer to a successful file upload.
type Upload struct {
	Type     string
	URL      string
	Filename string
}

// Upload sends content as a multipart file named filename.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (Upload, error) {
	const op = "upload"
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile(uploadField, filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, content); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	payload, err := c.do(ctx, op, http.MethodPost, PathUpload, pr, mw.FormDataContentType())
	pr.Close()
	if err != nil {
		return Upload{}, err
	}
	resp, err := decode[struct {
		ack
		Type     string  `json:"type"`
		URL      *string `json:"url"`
		Filename string  `json:"filename"`
	}](op, payload)
	if err != nil {
		return Upload{}, err
	}
	if err := resp.check(op); err != nil {
		return Upload{}, err
	}
	out := Upload{
		Type:     strings.ToLower(strings.TrimSpace(resp.Type)),
		Filename: strings.TrimSpace(resp.Filename),
	}
	if resp.URL != nil {
		out.URL = strings.TrimSpace(*resp.URL)
	}
	switch out.Type {
	case "image":
		if out.URL == "" {
			return Upload{}, malformedErr(op, "image upload without url")
		}
	case "video":
	default:
		return Upload{}, malformedErr(op, "unknown source type %q", resp.Type)
	}
	if out.Filename == "" {
		out.Filename = filename
	}
	return out, nil
}

func (c *Client) StartCamera(ctx context.Context) error {
	return c.call(ctx, "start camera", http.MethodPost, PathStartCamera)
}

func (c *Client) StopCamera(ctx context.Context) error {
	return c.call(ctx, "stop camera", http.MethodPost, PathStopCamera)
}

func (c *Client) ResetSystem(ctx context.Context) error {
	return c.call(ctx, "reset", http.MethodPost, PathResetSystem)
}

func (c *Client) OpenRecords(ctx context.Context) error {
	return c.call(ctx, "open records", http.MethodGet, PathOpenRecords)
}

func (c *Client) ToggleDetection(ctx context.Context) (bool, error) {
	return c.toggle(ctx, "toggle detection", PathToggleDetection)
}

func (c *Client) ToggleRecognition(ctx context.Context) (bool, error) {
	return c.toggle(ctx, "toggle recognition", PathToggleRecognition)
}

func (c *Client) toggle(ctx context.Context, op, path string) (bool, error) {
	payload, err := c.do(ctx, op, http.MethodPost, path, nil, "")
	if err != nil {
		return false, err
	}
	resp, err := decode[struct {
		ack
		Active *bool `json:"active"`
	}](op, payload)
	if err != nil {
		return false, err
	}
	// Older services answer {active} alone; success is only checked when present.
	if resp.Success != nil && !*resp.Success {
		return false, &ServiceError{Op: op, Message: strings.TrimSpace(resp.Error)}
	}
	if resp.Active == nil {
		return false, malformedErr(op, "missing active flag")
	}
	return *resp.Active, nil
}

// CaptureFrame asks the service to save the current frame and returns the
// saved artifact name.
func (c *Client) CaptureFrame(ctx context.Context) (string, error) {
	const op = "capture"
	payload, err := c.do(ctx, op, http.MethodPost, PathCaptureFrame, nil, "")
	if err != nil {
		return "", err
	}
	resp, err := decode[struct {
		ack
		Filename string `json:"filename"`
	}](op, payload)
	if err != nil {
		return "", err
	}
	if err := resp.check(op); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Filename), nil
}

// DetectionStatus is the wire form of a compliance snapshot. Unknown keys are
// ignored and missing keys read as false.
type DetectionStatus struct {
	Persona bool `json:"persona"`
	Casco   bool `json:"casco"`
	Gafas   bool `json:"gafas"`
	Chaleco bool `json:"chaleco"`
	Guantes bool `json:"guantes"`
}

// Snapshot converts the wire form into the client's compliance value.
func (d DetectionStatus) Snapshot() session.Snapshot {
	var snap session.Snapshot
	snap.PersonPresent = d.Persona
	snap.Items[session.Helmet] = d.Casco
	snap.Items[session.Glasses] = d.Gafas
	snap.Items[session.Vest] = d.Chaleco
	snap.Items[session.Gloves] = d.Guantes
	return snap
}

func (c *Client) DetectionStatus(ctx context.Context) (DetectionStatus, error) {
	const op = "detection status"
	payload, err := c.do(ctx, op, http.MethodGet, PathDetectionStatus, nil, "")
	if err != nil {
		return DetectionStatus{}, err
	}
	return decode[DetectionStatus](op, payload)
}

// ProbeMedia checks that a media reference answers with a 2xx. Only the
// headers are read; live feeds never end.
func (c *Client) ProbeMedia(ctx context.Context, mediaURL string) error {
	const op = "probe media"
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ResolveURL(mediaURL), nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set(RequestIDHeader, uuid.NewString())
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return transportErr(op, "http %d", resp.StatusCode)
	}
	return nil
}

// IsCanceled reports whether err came from the caller giving up rather than
// from the service.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
