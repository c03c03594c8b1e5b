// Package fingerprint produces synthetic device fingerprints for generated
// identities. The payload is opaque to every consumer in this module; fields
// exist so downstream tooling receives a blob shaped like what real
// fingerprinting surfaces would collect.
package fingerprint

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
)

type screenProfile struct {
	width, height int
}

var screensByDevice = map[schemas.DeviceType][]screenProfile{
	schemas.DeviceDesktop: {{1920, 1080}, {2560, 1440}, {1536, 864}, {1440, 900}, {3840, 2160}},
	schemas.DeviceMobile:  {{390, 844}, {412, 915}, {393, 873}, {430, 932}},
	schemas.DeviceTablet:  {{820, 1180}, {1024, 1366}, {800, 1280}},
}

type webglProfile struct {
	vendor, renderer string
}

var webglByPlatform = map[schemas.Platform][]webglProfile{
	schemas.PlatformWindows: {
		{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 6700 XT Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	},
	schemas.PlatformMacOS: {
		{"Apple Inc.", "Apple M2"},
		{"Apple Inc.", "Apple M1 Pro"},
		{"Google Inc. (Apple)", "ANGLE (Apple, Apple M2, OpenGL 4.1)"},
	},
	schemas.PlatformLinux: {
		{"Mesa", "Mesa Intel(R) UHD Graphics 620 (KBL GT2)"},
		{"Mesa", "AMD Radeon Graphics (renoir, LLVM 15.0.7)"},
	},
	schemas.PlatformAndroid: {
		{"Qualcomm", "Adreno (TM) 740"},
		{"ARM", "Mali-G715-Immortalis MC11"},
	},
	schemas.PlatformIOS: {
		{"Apple Inc.", "Apple GPU"},
	},
}

var timezones = []string{
	"America/New_York", "America/Chicago", "America/Los_Angeles",
	"Europe/London", "Europe/Berlin", "Europe/Paris", "Asia/Singapore",
}

var languageSets = [][]string{
	{"en-US", "en"},
	{"en-GB", "en"},
	{"de-DE", "de", "en"},
	{"fr-FR", "fr", "en"},
}

// Generator builds fingerprints consistent with an identity's platform and
// device class. Safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a generator seeded from the wall clock.
func NewGenerator() *Generator {
	return NewGeneratorWithSeed(time.Now().UnixNano())
}

// NewGeneratorWithSeed pins the random source for reproducible payloads.
func NewGeneratorWithSeed(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Generate implements schemas.FingerprintGenerator.
func (g *Generator) Generate(identity schemas.IdentityComponents) schemas.Fingerprint {
	g.mu.Lock()
	defer g.mu.Unlock()

	screens := screensByDevice[identity.DeviceType]
	if len(screens) == 0 {
		screens = screensByDevice[schemas.DeviceDesktop]
	}
	screen := screens[g.rng.Intn(len(screens))]

	webgls := webglByPlatform[identity.Platform]
	if len(webgls) == 0 {
		webgls = webglByPlatform[schemas.PlatformWindows]
	}
	webgl := webgls[g.rng.Intn(len(webgls))]

	cores := []int{4, 8, 12, 16}[g.rng.Intn(4)]
	memory := []int{4, 8, 16}[g.rng.Intn(3)]
	if identity.DeviceType != schemas.DeviceDesktop {
		cores = []int{4, 6, 8}[g.rng.Intn(3)]
		memory = []int{4, 6, 8}[g.rng.Intn(3)]
	}

	colorDepth := 24
	if identity.Platform == schemas.PlatformMacOS || identity.Platform == schemas.PlatformIOS {
		colorDepth = 30
	}

	data := map[string]any{
		"canvas_hash":          g.hash(),
		"audio_hash":           g.hash(),
		"webgl_vendor":         webgl.vendor,
		"webgl_renderer":       webgl.renderer,
		"screen_width":         screen.width,
		"screen_height":        screen.height,
		"color_depth":          colorDepth,
		"hardware_concurrency": cores,
		"device_memory":        memory,
		"timezone":             timezones[g.rng.Intn(len(timezones))],
		"languages":            languageSets[g.rng.Intn(len(languageSets))],
		"noise_seed":           g.rng.Int63(),
	}

	return schemas.Fingerprint{
		ID:   uuid.New().String(),
		Data: data,
	}
}

// hash renders a 32-character hex digest stand-in. Assumes the lock is held.
func (g *Generator) hash() string {
	return fmt.Sprintf("%016x%016x", g.rng.Uint64(), g.rng.Uint64())
}
