package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Default device metadata reported to the server. The values mirror the
// MAX web client so a gomax session looks like an ordinary browser tab.
const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/142.0.0.0 Safari/537.36"
	DefaultAppVersion      = "25.12.3"
	DefaultDeviceType      = "ANDROID"
	DefaultLocale          = "ru"
	DefaultOSVersion       = "Windows"
	DefaultDeviceName      = "Chrome"
	DefaultScreen          = "1080x1920 1.0x"
	DefaultTimezone        = "Europe/Moscow"
	DefaultProtocolVersion = 11
)

// Session is the durable per-device state. DeviceID is generated once
// and kept stable for the lifetime of the session file; Token and Phone
// are filled in by the authentication flow.
type Session struct {
	DeviceID        string `json:"device_id"`
	UserAgent       string `json:"user_agent"`
	AppVersion      string `json:"app_version"`
	DeviceType      string `json:"device_type"`
	Locale          string `json:"locale"`
	DeviceLocale    string `json:"device_locale"`
	OSVersion       string `json:"os_version"`
	DeviceName      string `json:"device_name"`
	Screen          string `json:"screen"`
	Timezone        string `json:"timezone"`
	ProtocolVersion int    `json:"version"`
	Token           string `json:"token,omitempty"`
	Phone           string `json:"phone,omitempty"`
}

// New creates a fresh session with a newly generated device identity and
// default device metadata.
func New() *Session {
	return &Session{
		DeviceID:        uuid.NewString(),
		UserAgent:       DefaultUserAgent,
		AppVersion:      DefaultAppVersion,
		DeviceType:      DefaultDeviceType,
		Locale:          DefaultLocale,
		DeviceLocale:    DefaultLocale,
		OSVersion:       DefaultOSVersion,
		DeviceName:      DefaultDeviceName,
		Screen:          DefaultScreen,
		Timezone:        DefaultTimezone,
		ProtocolVersion: DefaultProtocolVersion,
	}
}

// Load reads a session file. A missing or unreadable or corrupt file
// yields (nil, nil): corruption is treated as "no session", never as a
// caller-visible failure.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithFields(logrus.Fields{
				"package": "session",
				"path":    path,
				"error":   err,
			}).Warn("session file unreadable, starting fresh")
		}
		return nil, nil
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		logrus.WithFields(logrus.Fields{
			"package": "session",
			"path":    path,
			"error":   err,
		}).Warn("session file corrupt, starting fresh")
		return nil, nil
	}
	if s.DeviceID == "" {
		// A file without a device identity cannot resume anything.
		return nil, nil
	}
	if s.ProtocolVersion == 0 {
		s.ProtocolVersion = DefaultProtocolVersion
	}
	return &s, nil
}

// Save writes the session atomically: the JSON is written to a temporary
// file in the same directory, then renamed over the target.
func Save(path string, s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// Clone returns an independent copy of the session.
func (s *Session) Clone() *Session {
	clone := *s
	return &clone
}

// UserAgentPayload builds the userAgent object sent in the device hello
// frame.
func (s *Session) UserAgentPayload() map[string]any {
	return map[string]any{
		"deviceType":      s.DeviceType,
		"locale":          s.Locale,
		"deviceLocale":    s.DeviceLocale,
		"osVersion":       s.OSVersion,
		"deviceName":      s.DeviceName,
		"headerUserAgent": s.UserAgent,
		"appVersion":      s.AppVersion,
		"screen":          s.Screen,
		"timezone":        s.Timezone,
	}
}
