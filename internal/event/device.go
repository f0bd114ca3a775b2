package event

import (
	"strings"
	"time"
)

// Device classes negotiated at handshake from the User-Agent header.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// DeviceDescriptor is the per-connection device fingerprint recorded in
// the audit trail and used by the new-device heuristic. Class plus
// remote address is a known-weak fingerprint (false negatives across
// NAT, false positives across device upgrades); it is kept as-is
// pending product guidance.
type DeviceDescriptor struct {
	Class      string `json:"class"`
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	RemoteAddr string `json:"remote_addr"`
}

// DeviceSession is the write-once-per-connection audit record
// correlating a connection id to its device descriptor and activity
// window. Purely observational; the live engine never reads it back
// except for the latest-session new-device check.
type DeviceSession struct {
	ID             string           `json:"id"`
	ConnectionID   string           `json:"connection_id"`
	UserID         string           `json:"user_id"`
	Device         DeviceDescriptor `json:"device"`
	ConnectedAt    time.Time        `json:"connected_at"`
	DisconnectedAt *time.Time       `json:"disconnected_at,omitempty"`
}

// DescribeDevice classifies a raw User-Agent string. Substring
// matching only; order matters (tablets report "Mobile" too).
func DescribeDevice(userAgent, remoteAddr string) DeviceDescriptor {
	ua := strings.ToLower(userAgent)
	d := DeviceDescriptor{
		Class:      DeviceUnknown,
		OS:         "unknown",
		Browser:    "unknown",
		RemoteAddr: remoteAddr,
	}
	if ua == "" {
		return d
	}

	switch {
	case strings.Contains(ua, "bot"), strings.Contains(ua, "crawler"), strings.Contains(ua, "spider"):
		d.Class = DeviceBot
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		d.Class = DeviceTablet
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "iphone"), strings.Contains(ua, "android"):
		d.Class = DeviceMobile
	default:
		d.Class = DeviceDesktop
	}

	switch {
	case strings.Contains(ua, "windows"):
		d.OS = "windows"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ios"):
		d.OS = "ios"
	case strings.Contains(ua, "mac os"), strings.Contains(ua, "macintosh"):
		d.OS = "macos"
	case strings.Contains(ua, "android"):
		d.OS = "android"
	case strings.Contains(ua, "linux"):
		d.OS = "linux"
	}

	switch {
	case strings.Contains(ua, "edg/"):
		d.Browser = "edge"
	case strings.Contains(ua, "opr/"), strings.Contains(ua, "opera"):
		d.Browser = "opera"
	case strings.Contains(ua, "chrome"):
		d.Browser = "chrome"
	case strings.Contains(ua, "safari"):
		d.Browser = "safari"
	case strings.Contains(ua, "firefox"):
		d.Browser = "firefox"
	}

	return d
}

// SameDevice implements the new-device heuristic: equality on device
// class and network address only.
func SameDevice(a, b DeviceDescriptor) bool {
	return a.Class == b.Class && a.RemoteAddr == b.RemoteAddr
}
