package batch

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
)

func TestValidateIdentity(t *testing.T) {
	t.Run("should accept a well-formed identity", func(t *testing.T) {
		assert.NoError(t, validateIdentity(validStubIdentity()))
		assert.NoError(t, validateIdentity(schemas.IdentityComponents{
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/119.0",
			Browser:   schemas.BrowserFirefox,
			Platform:  schemas.PlatformLinux,
		}))
	})

	t.Run("should reject an empty user agent", func(t *testing.T) {
		err := validateIdentity(schemas.IdentityComponents{Browser: schemas.BrowserChrome, Platform: schemas.PlatformWindows})
		require.ErrorContains(t, err, "user_agent is empty")
	})

	t.Run("should reject a user agent under the length floor", func(t *testing.T) {
		identity := validStubIdentity()
		identity.UserAgent = "Mozilla/5.0 (X11)"
		err := validateIdentity(identity)
		require.ErrorContains(t, err, "shorter than 40 characters")

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "user_agent", verr.Field)
	})

	t.Run("should reject a user agent over the length ceiling", func(t *testing.T) {
		identity := validStubIdentity()
		identity.UserAgent = "Mozilla/5.0 (" + strings.Repeat("x", maxUserAgentLen)
		require.ErrorContains(t, validateIdentity(identity), "longer than 512 characters")
	})

	t.Run("should reject a missing Mozilla prefix", func(t *testing.T) {
		identity := validStubIdentity()
		identity.UserAgent = "Opera/9.80 (Windows NT 6.1; U; en) Presto/2.10.289 Version/12.00"
		require.ErrorContains(t, validateIdentity(identity), "missing Mozilla/5.0 prefix")
	})

	t.Run("should reject a browser token mismatch", func(t *testing.T) {
		identity := validStubIdentity()
		identity.UserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:109.0) Gecko/20100101 Firefox/119.0"
		err := validateIdentity(identity)
		require.ErrorContains(t, err, "missing Chrome/ token")
	})

	t.Run("should skip the token check for an unknown browser family", func(t *testing.T) {
		err := validateIdentity(schemas.IdentityComponents{
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Presto/2.12 Version/12.16",
			Browser:   schemas.Browser("opera"),
			Platform:  schemas.PlatformWindows,
		})
		assert.NoError(t, err)
	})

	t.Run("should reject blank browser and platform fields", func(t *testing.T) {
		identity := validStubIdentity()
		identity.Browser = ""
		require.ErrorContains(t, validateIdentity(identity), "browser is empty")

		identity = validStubIdentity()
		identity.Platform = ""
		require.ErrorContains(t, validateIdentity(identity), "platform is empty")
	})

	t.Run("should be recoverable as a typed error", func(t *testing.T) {
		identity := validStubIdentity()
		identity.UserAgent = "short"
		var verr *ValidationError
		assert.True(t, errors.As(validateIdentity(identity), &verr))
	})
}
