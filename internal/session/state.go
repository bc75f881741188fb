package session

import (
	"strings"
	"time"
)

// Source identifies what feeds the media surface.
type Source int

const (
	SourceNone Source = iota
	SourceCamera
	SourceImage
	SourceVideo
)

func (s Source) String() string {
	switch s {
	case SourceCamera:
		return "camera"
	case SourceImage:
		return "image"
	case SourceVideo:
		return "video"
	default:
		return "none"
	}
}

// ParseSource maps the service's source names. Anything unknown is SourceNone.
func ParseSource(raw string) Source {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "camera":
		return SourceCamera
	case "image":
		return SourceImage
	case "video":
		return SourceVideo
	default:
		return SourceNone
	}
}

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Kind string

const (
	KindSystem      Kind = "system"
	KindLoaded      Kind = "loaded"
	KindCamera      Kind = "camera"
	KindDetection   Kind = "detection"
	KindRecognition Kind = "recognition"
	KindCapture     Kind = "capture"
	KindRecords     Kind = "records"
	KindReset       Kind = "reset"
	KindCompliant   Kind = "compliant"
	KindIncomplete  Kind = "incomplete"
	KindMonitoring  Kind = "monitoring"
)

// Record is one line of the activity feed.
type Record struct {
	At      time.Time
	Level   Level
	Kind    Kind
	Message string
}

// MaxActivity caps the activity feed.
const MaxActivity = 10

// State is the client's belief about the remote session.
type State struct {
	Source             Source
	Media              string
	DetectionEnabled   bool
	RecognitionEnabled bool
	Generation         uint64
	Snapshot           Snapshot
	Activity           []Record
	Seeded             bool
}

func (s State) clone() State {
	out := s
	out.Activity = append([]Record(nil), s.Activity...)
	return out
}
