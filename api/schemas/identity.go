package schemas

import (
	"strconv"
	"time"
)

// -- Identity Models --
// These types describe a single synthetic browser identity and the results of
// generating identities in bulk. They are shared by every engine in the
// module and by the CLI layer.

// Platform identifies the operating system family an identity claims.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// Browser identifies the browser family an identity claims.
type Browser string

const (
	BrowserChrome  Browser = "chrome"
	BrowserFirefox Browser = "firefox"
	BrowserSafari  Browser = "safari"
	BrowserEdge    Browser = "edge"
)

// DeviceType identifies the hardware class an identity claims.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
)

// IdentityComponents is the immutable value produced by the identity factory:
// the rendered user-agent string plus the structured fields it was built from.
type IdentityComponents struct {
	UserAgent      string     `json:"user_agent"`
	Browser        Browser    `json:"browser"`
	BrowserVersion string     `json:"browser_version"`
	Platform       Platform   `json:"platform"`
	OSVersion      string     `json:"os_version"`
	DeviceType     DeviceType `json:"device_type"`
	Architecture   string     `json:"architecture"`
	EngineVersion  string     `json:"engine_version"`
}

// ComboKey returns the (browser, platform, device) triple used when a caller
// needs identity diversity rather than identity equality.
func (ic IdentityComponents) ComboKey() string {
	return string(ic.Browser) + "/" + string(ic.Platform) + "/" + string(ic.DeviceType)
}

// IdentityFilter constrains what the factory may produce. Zero-valued fields
// leave the corresponding dimension unconstrained.
type IdentityFilter struct {
	Browser    Browser    `json:"browser,omitempty"`
	Platform   Platform   `json:"platform,omitempty"`
	DeviceType DeviceType `json:"device_type,omitempty"`
	MinVersion int        `json:"min_version,omitempty"`
}

// Signature renders the filter as a stable string, suitable as a cache-key
// fragment. Two filters with equal constraints always produce equal
// signatures.
func (f *IdentityFilter) Signature() string {
	if f == nil {
		return "any/any/any/0"
	}
	sig := "any"
	if f.Browser != "" {
		sig = string(f.Browser)
	}
	sig += "/"
	if f.Platform != "" {
		sig += string(f.Platform)
	} else {
		sig += "any"
	}
	sig += "/"
	if f.DeviceType != "" {
		sig += string(f.DeviceType)
	} else {
		sig += "any"
	}
	if f.MinVersion > 0 {
		return sig + "/" + strconv.Itoa(f.MinVersion)
	}
	return sig + "/0"
}

// Fingerprint is the opaque payload attached to a generated identity. The
// engines never interpret Data; it exists so downstream consumers receive a
// consistent blob alongside the user-agent string.
type Fingerprint struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// GenerationMeta records where and when a result was produced within a batch.
type GenerationMeta struct {
	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"duration"`
	BatchID   string        `json:"batch_id"`
	Index     int           `json:"index"`
}

// GenerationResult is one generated identity plus its provenance. Owned by
// the batch until returned to the caller.
type GenerationResult struct {
	Identity    IdentityComponents `json:"identity"`
	Fingerprint *Fingerprint       `json:"fingerprint,omitempty"`
	Meta        GenerationMeta     `json:"meta"`
}

// BatchErrorKind classifies a per-item failure.
type BatchErrorKind string

const (
	BatchErrorGeneration BatchErrorKind = "generation"
	BatchErrorValidation BatchErrorKind = "validation"
	BatchErrorChunk      BatchErrorKind = "chunk"
)

// BatchError is a recoverable per-index failure recorded in a BatchResult.
type BatchError struct {
	Index   int            `json:"index"`
	Message string         `json:"message"`
	Kind    BatchErrorKind `json:"kind"`
}

// BatchStats aggregates outcome counters for one batch run.
type BatchStats struct {
	Requested        int           `json:"requested"`
	Succeeded        int           `json:"succeeded"`
	Failed           int           `json:"failed"`
	TotalTime        time.Duration `json:"total_time"`
	AvgGenTime       time.Duration `json:"avg_gen_time"`
	UniqueIdentities int           `json:"unique_identities,omitempty"`
}

// BatchResult is the complete outcome of one Generate call. Results are
// always ordered by Meta.Index regardless of completion order, and every
// requested index appears exactly once across Results and Errors. Immutable
// once returned.
type BatchResult struct {
	BatchID string             `json:"batch_id"`
	Results []GenerationResult `json:"results"`
	Errors  []BatchError       `json:"errors,omitempty"`
	Stats   BatchStats         `json:"stats"`
}

// BatchRecord is the archived summary of a past batch as read back from
// storage. Durations are flattened to milliseconds in the archive.
type BatchRecord struct {
	ID               string    `json:"id"`
	Requested        int       `json:"requested"`
	Succeeded        int       `json:"succeeded"`
	Failed           int       `json:"failed"`
	TotalTimeMS      int64     `json:"total_time_ms"`
	AvgGenTimeMS     int64     `json:"avg_gen_time_ms"`
	UniqueIdentities int       `json:"unique_identities"`
	CreatedAt        time.Time `json:"created_at"`
}
