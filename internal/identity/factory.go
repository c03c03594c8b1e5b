// Package identity implements the template-substitution identity factory.
// Identities are drawn from a weighted table of valid (browser, platform,
// device) pairings, with versions randomized inside per-browser ranges.
package identity

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
	"github.com/arnonsang/shadow-ua-sub000/pkg/weighted"
)

// Factory generates synthetic browser identities. It is stateless between
// calls apart from its random source and safe for concurrent use.
type Factory struct {
	mu     sync.Mutex
	rng    *rand.Rand
	logger *zap.Logger
}

// NewFactory returns a factory seeded from the wall clock.
func NewFactory(logger *zap.Logger) *Factory {
	return NewFactoryWithSeed(logger, time.Now().UnixNano())
}

// NewFactoryWithSeed pins the random source so draws are reproducible.
func NewFactoryWithSeed(logger *zap.Logger, seed int64) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger.Named("identity"),
	}
}

// Generate implements schemas.IdentityFactory. A nil filter leaves every
// dimension unconstrained. Filters that no template can satisfy (safari on
// windows, chrome above its highest known major) return an error.
func (f *Factory) Generate(filter *schemas.IdentityFilter) (schemas.IdentityComponents, error) {
	candidates, weights := matchingCombos(filter)
	if len(candidates) == 0 {
		return schemas.IdentityComponents{}, fmt.Errorf("no identity template satisfies filter %s", filter.Signature())
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	idx, ok := weighted.PickOne(f.rng, weights)
	if !ok {
		return schemas.IdentityComponents{}, fmt.Errorf("no identity template satisfies filter %s", filter.Signature())
	}
	c := candidates[idx]

	vr := versionRanges[c.browser]
	minMajor := vr.min
	if filter != nil && filter.MinVersion > minMajor {
		minMajor = filter.MinVersion
	}
	major := minMajor + f.rng.Intn(vr.max-minMajor+1)
	majorStr := strconv.Itoa(major)
	full := f.fullVersion(c.browser, major)

	osVersion, osToken, model := f.platformDetails(c.platform)

	components := schemas.IdentityComponents{
		UserAgent:      buildUserAgent(c, full, majorStr, osToken, model),
		Browser:        c.browser,
		BrowserVersion: full,
		Platform:       c.platform,
		OSVersion:      osVersion,
		DeviceType:     c.device,
		Architecture:   architecture(c.platform, f.rng.Intn(2) == 0),
		EngineVersion:  engineVersion(c.browser, majorStr),
	}

	f.logger.Debug("Generated identity",
		zap.String("combo", components.ComboKey()),
		zap.String("version", full))

	return components, nil
}

// fullVersion renders the dotted version string for the UA. Assumes the lock
// is held.
func (f *Factory) fullVersion(b schemas.Browser, major int) string {
	switch b {
	case schemas.BrowserChrome, schemas.BrowserEdge:
		return fmt.Sprintf("%d.0.%d.%d", major, 4000+f.rng.Intn(2500), f.rng.Intn(250))
	case schemas.BrowserSafari:
		return fmt.Sprintf("%d.%d", major, f.rng.Intn(7))
	default:
		return fmt.Sprintf("%d.0", major)
	}
}

// platformDetails picks the structured OS version, its UA token, and a device
// model where the platform needs one. Assumes the lock is held.
func (f *Factory) platformDetails(p schemas.Platform) (osVersion, osToken, model string) {
	switch p {
	case schemas.PlatformWindows:
		osVersion = windowsVersions[f.rng.Intn(len(windowsVersions))]
	case schemas.PlatformMacOS:
		osVersion = macOSVersions[f.rng.Intn(len(macOSVersions))]
		osToken = macUAToken
	case schemas.PlatformLinux:
		osVersion = linuxKernels[f.rng.Intn(len(linuxKernels))]
	case schemas.PlatformAndroid:
		osVersion = androidVersions[f.rng.Intn(len(androidVersions))]
		osToken = osVersion
		model = androidModels[f.rng.Intn(len(androidModels))]
	case schemas.PlatformIOS:
		osVersion = iosVersions[f.rng.Intn(len(iosVersions))]
		osToken = strings.ReplaceAll(osVersion, ".", "_")
	}
	return osVersion, osToken, model
}

// matchingCombos filters the template table down to pairings the filter
// allows, keeping their weights aligned by index.
func matchingCombos(filter *schemas.IdentityFilter) ([]combo, []float64) {
	var (
		candidates []combo
		weights    []float64
	)
	for _, c := range combos {
		if filter != nil {
			if filter.Browser != "" && filter.Browser != c.browser {
				continue
			}
			if filter.Platform != "" && filter.Platform != c.platform {
				continue
			}
			if filter.DeviceType != "" && filter.DeviceType != c.device {
				continue
			}
			if filter.MinVersion > versionRanges[c.browser].max {
				continue
			}
		}
		candidates = append(candidates, c)
		weights = append(weights, c.weight)
	}
	return candidates, weights
}
