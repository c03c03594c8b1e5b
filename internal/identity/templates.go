package identity

import (
	"fmt"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
)

// combo is one valid (browser, platform, device) pairing with its draw weight.
// Pairings absent from this table (safari on windows, edge on android, ...)
// are never generated.
type combo struct {
	browser  schemas.Browser
	platform schemas.Platform
	device   schemas.DeviceType
	weight   float64
}

// combos roughly follows observed traffic share so unfiltered batches skew
// toward the common desktop and mobile profiles.
var combos = []combo{
	{schemas.BrowserChrome, schemas.PlatformWindows, schemas.DeviceDesktop, 28},
	{schemas.BrowserChrome, schemas.PlatformAndroid, schemas.DeviceMobile, 22},
	{schemas.BrowserSafari, schemas.PlatformIOS, schemas.DeviceMobile, 12},
	{schemas.BrowserChrome, schemas.PlatformMacOS, schemas.DeviceDesktop, 8},
	{schemas.BrowserEdge, schemas.PlatformWindows, schemas.DeviceDesktop, 7},
	{schemas.BrowserFirefox, schemas.PlatformWindows, schemas.DeviceDesktop, 5},
	{schemas.BrowserSafari, schemas.PlatformMacOS, schemas.DeviceDesktop, 5},
	{schemas.BrowserChrome, schemas.PlatformLinux, schemas.DeviceDesktop, 3},
	{schemas.BrowserSafari, schemas.PlatformIOS, schemas.DeviceTablet, 3},
	{schemas.BrowserFirefox, schemas.PlatformLinux, schemas.DeviceDesktop, 2},
	{schemas.BrowserChrome, schemas.PlatformAndroid, schemas.DeviceTablet, 2},
	{schemas.BrowserFirefox, schemas.PlatformMacOS, schemas.DeviceDesktop, 1},
	{schemas.BrowserFirefox, schemas.PlatformAndroid, schemas.DeviceMobile, 1},
	{schemas.BrowserEdge, schemas.PlatformMacOS, schemas.DeviceDesktop, 1},
}

// versionRange bounds the randomized major version per browser family.
type versionRange struct {
	min, max int
}

var versionRanges = map[schemas.Browser]versionRange{
	schemas.BrowserChrome:  {115, 126},
	schemas.BrowserFirefox: {115, 127},
	schemas.BrowserSafari:  {16, 17},
	schemas.BrowserEdge:    {115, 126},
}

var androidModels = []string{
	"Pixel 8", "Pixel 7", "Pixel 7a", "SM-G998B", "SM-S918B", "SM-A546B", "OnePlus 11",
}

var androidVersions = []string{"12", "13", "14"}

// macOSVersions are the structured os_version values. The user-agent token
// stays frozen at 10_15_7, which is what shipping browsers report since
// Catalina regardless of the real OS version.
var macOSVersions = []string{"12.7", "13.5", "13.6", "14.2", "14.5"}

const macUAToken = "10_15_7"

var windowsVersions = []string{"10.0", "11.0"}

var linuxKernels = []string{"5.15", "6.1", "6.5"}

var iosVersions = []string{"16.5", "16.6", "17.2", "17.4", "17.5"}

// buildUserAgent renders the user-agent string for one resolved identity.
// fullVersion is the dotted browser version, osToken the platform token
// already in UA form (underscores for Apple platforms), model the device
// model for Android.
func buildUserAgent(c combo, fullVersion, major, osToken, model string) string {
	switch c.browser {
	case schemas.BrowserChrome:
		switch c.platform {
		case schemas.PlatformWindows:
			return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", fullVersion)
		case schemas.PlatformMacOS:
			return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", macUAToken, fullVersion)
		case schemas.PlatformLinux:
			return fmt.Sprintf("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", fullVersion)
		case schemas.PlatformAndroid:
			suffix := "Mobile Safari/537.36"
			if c.device == schemas.DeviceTablet {
				// Android tablets drop the Mobile token.
				suffix = "Safari/537.36"
			}
			return fmt.Sprintf("Mozilla/5.0 (Linux; Android %s; %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s %s", osToken, model, fullVersion, suffix)
		}
	case schemas.BrowserFirefox:
		switch c.platform {
		case schemas.PlatformWindows:
			return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:%s.0) Gecko/20100101 Firefox/%s.0", major, major)
		case schemas.PlatformMacOS:
			return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X %s; rv:%s.0) Gecko/20100101 Firefox/%s.0", macUAToken, major, major)
		case schemas.PlatformLinux:
			return fmt.Sprintf("Mozilla/5.0 (X11; Linux x86_64; rv:%s.0) Gecko/20100101 Firefox/%s.0", major, major)
		case schemas.PlatformAndroid:
			return fmt.Sprintf("Mozilla/5.0 (Android %s; Mobile; rv:%s.0) Gecko/%s.0 Firefox/%s.0", osToken, major, major, major)
		}
	case schemas.BrowserSafari:
		switch c.platform {
		case schemas.PlatformMacOS:
			return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X %s) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Safari/605.1.15", macUAToken, fullVersion)
		case schemas.PlatformIOS:
			deviceToken := "iPhone; CPU iPhone OS " + osToken + " like Mac OS X"
			if c.device == schemas.DeviceTablet {
				deviceToken = "iPad; CPU OS " + osToken + " like Mac OS X"
			}
			return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Mobile/15E148 Safari/604.1", deviceToken, fullVersion)
		}
	case schemas.BrowserEdge:
		switch c.platform {
		case schemas.PlatformWindows:
			return fmt.Sprintf("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36 Edg/%s", fullVersion, fullVersion)
		case schemas.PlatformMacOS:
			return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36 Edg/%s", macUAToken, fullVersion, fullVersion)
		}
	}
	return ""
}

// engineVersion reports the rendering-engine token embedded in the UA.
func engineVersion(b schemas.Browser, major string) string {
	switch b {
	case schemas.BrowserFirefox:
		return major + ".0"
	case schemas.BrowserSafari:
		return "605.1.15"
	default:
		return "537.36"
	}
}

// architecture reports a plausible CPU architecture for the platform.
func architecture(p schemas.Platform, pickArm bool) string {
	switch p {
	case schemas.PlatformWindows, schemas.PlatformLinux:
		return "x86_64"
	case schemas.PlatformMacOS:
		if pickArm {
			return "arm64"
		}
		return "x86_64"
	default:
		return "arm64"
	}
}
