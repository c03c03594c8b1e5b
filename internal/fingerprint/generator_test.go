package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
)

func TestGenerate(t *testing.T) {
	g := NewGeneratorWithSeed(11)

	t.Run("should build a platform-consistent payload", func(t *testing.T) {
		fp := g.Generate(schemas.IdentityComponents{
			Platform:   schemas.PlatformMacOS,
			DeviceType: schemas.DeviceDesktop,
		})

		require.NotEmpty(t, fp.ID)
		assert.Len(t, fp.Data["canvas_hash"], 32)
		assert.Len(t, fp.Data["audio_hash"], 32)
		assert.Contains(t, fp.Data["webgl_vendor"], "Apple")
		assert.Equal(t, 30, fp.Data["color_depth"])

		w, ok := fp.Data["screen_width"].(int)
		require.True(t, ok)
		assert.GreaterOrEqual(t, w, 1440)
	})

	t.Run("should size screens by device class", func(t *testing.T) {
		fp := g.Generate(schemas.IdentityComponents{
			Platform:   schemas.PlatformAndroid,
			DeviceType: schemas.DeviceMobile,
		})
		w := fp.Data["screen_width"].(int)
		assert.Less(t, w, 500, "mobile widths stay in the phone range")
	})

	t.Run("should vary ids and hashes between calls", func(t *testing.T) {
		id := schemas.IdentityComponents{Platform: schemas.PlatformWindows, DeviceType: schemas.DeviceDesktop}
		a := g.Generate(id)
		b := g.Generate(id)
		assert.NotEqual(t, a.ID, b.ID)
		assert.NotEqual(t, a.Data["canvas_hash"], b.Data["canvas_hash"])
	})

	t.Run("should fall back for unknown platforms", func(t *testing.T) {
		fp := g.Generate(schemas.IdentityComponents{Platform: "beos", DeviceType: "toaster"})
		assert.NotEmpty(t, fp.Data["webgl_renderer"])
		assert.NotNil(t, fp.Data["screen_width"])
	})
}
