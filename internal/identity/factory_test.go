package identity

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
)

func TestGenerate(t *testing.T) {
	f := NewFactoryWithSeed(zap.NewNop(), 1)

	t.Run("should produce a plausible unfiltered identity", func(t *testing.T) {
		id, err := f.Generate(nil)
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(id.UserAgent, "Mozilla/5.0 ("), "every UA starts with the Mozilla prefix")
		assert.NotEmpty(t, id.Browser)
		assert.NotEmpty(t, id.Platform)
		assert.NotEmpty(t, id.DeviceType)
		assert.NotEmpty(t, id.BrowserVersion)
		assert.NotEmpty(t, id.OSVersion)
		assert.NotEmpty(t, id.Architecture)
	})

	t.Run("should honor a browser filter", func(t *testing.T) {
		filter := &schemas.IdentityFilter{Browser: schemas.BrowserChrome}
		for i := 0; i < 50; i++ {
			id, err := f.Generate(filter)
			require.NoError(t, err)
			assert.Equal(t, schemas.BrowserChrome, id.Browser)
			assert.Contains(t, id.UserAgent, "Chrome/")
			assert.NotContains(t, id.UserAgent, "Edg/", "chrome must not render as edge")
		}
	})

	t.Run("should honor platform and device filters together", func(t *testing.T) {
		filter := &schemas.IdentityFilter{
			Platform:   schemas.PlatformIOS,
			DeviceType: schemas.DeviceTablet,
		}
		for i := 0; i < 20; i++ {
			id, err := f.Generate(filter)
			require.NoError(t, err)
			assert.Equal(t, schemas.BrowserSafari, id.Browser, "only safari ships on ios")
			assert.Contains(t, id.UserAgent, "iPad")
		}
	})

	t.Run("should honor a minimum version", func(t *testing.T) {
		filter := &schemas.IdentityFilter{Browser: schemas.BrowserFirefox, MinVersion: 120}
		for i := 0; i < 30; i++ {
			id, err := f.Generate(filter)
			require.NoError(t, err)
			majorStr, _, found := strings.Cut(id.BrowserVersion, ".")
			require.True(t, found)
			major, err := strconv.Atoi(majorStr)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, major, 120)
		}
	})

	t.Run("should fail on an unsatisfiable combination", func(t *testing.T) {
		_, err := f.Generate(&schemas.IdentityFilter{
			Browser:  schemas.BrowserSafari,
			Platform: schemas.PlatformWindows,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no identity template satisfies filter")
	})

	t.Run("should fail when the minimum version exceeds every template", func(t *testing.T) {
		_, err := f.Generate(&schemas.IdentityFilter{
			Browser:    schemas.BrowserSafari,
			MinVersion: 120,
		})
		require.Error(t, err)
	})

	t.Run("should be reproducible for a fixed seed", func(t *testing.T) {
		a := NewFactoryWithSeed(zap.NewNop(), 99)
		b := NewFactoryWithSeed(zap.NewNop(), 99)
		for i := 0; i < 10; i++ {
			idA, errA := a.Generate(nil)
			idB, errB := b.Generate(nil)
			require.NoError(t, errA)
			require.NoError(t, errB)
			assert.Equal(t, idA, idB)
		}
	})
}

func TestGenerateConcurrent(t *testing.T) {
	// The factory guards its random source; hammer it from several
	// goroutines so the race detector gets a chance to object.
	f := NewFactory(zap.NewNop())
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				if _, err := f.Generate(nil); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	for g := 0; g < 8; g++ {
		<-done
	}
}

func TestTemplateTableConsistency(t *testing.T) {
	// Every table entry must render a non-empty UA and carry a version range.
	f := NewFactoryWithSeed(zap.NewNop(), 3)
	for _, c := range combos {
		filter := &schemas.IdentityFilter{
			Browser:    c.browser,
			Platform:   c.platform,
			DeviceType: c.device,
		}
		id, err := f.Generate(filter)
		require.NoErrorf(t, err, "combo %s/%s/%s must be generable", c.browser, c.platform, c.device)
		assert.NotEmpty(t, id.UserAgent)

		_, ok := versionRanges[c.browser]
		assert.Truef(t, ok, "browser %s missing a version range", c.browser)
	}
}
