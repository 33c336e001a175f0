package media

import "sync/atomic"

// Provider identifies a codec implementation.
type Provider uint8

const (
	ProviderAuto    Provider = iota // Let the registry choose
	ProviderNative                  // Pure Go implementations in this package
	ProviderLibopus                 // System libopus loaded at runtime
	providerCount
)

// License is the license of the library behind a provider. The registries
// prefer permissive providers when several serve the same codec.
type License uint8

const (
	LicenseGPL License = iota
	LicenseBSD
)

func (l License) Permissive() bool { return l == LicenseBSD }

func (l License) String() string {
	switch l {
	case LicenseGPL:
		return "GPL"
	case LicenseBSD:
		return "BSD"
	default:
		return "unknown"
	}
}

type Features uint32

const (
	FeatureLowLatency Features = 1 << iota
	FeatureDynamicBitrate
	// Encoder output lags input; callers must drain after the last frame.
	FeatureLookahead
)

func (f Features) Has(feature Features) bool { return f&feature == feature }

type providerMeta struct {
	Name     string
	License  License
	Encoder  bool
	Decoder  bool
	Features Features
}

// Indexed by Provider.
var providerInfo = [providerCount]providerMeta{
	ProviderAuto:    {"auto", LicenseBSD, false, false, 0},
	ProviderNative:  {"native", LicenseBSD, true, true, FeatureLowLatency},
	ProviderLibopus: {"libopus", LicenseBSD, true, true, FeatureDynamicBitrate | FeatureLowLatency | FeatureLookahead},
}

// Runtime availability, set by the provider implementations.
var providerAvailable [providerCount]atomic.Bool

func init() {
	setProviderAvailable(ProviderNative)
}

func (p Provider) meta() (providerMeta, bool) {
	if p >= providerCount {
		return providerMeta{Name: "unknown", License: LicenseGPL}, false
	}
	return providerInfo[p], true
}

func (p Provider) String() string {
	m, _ := p.meta()
	return m.Name
}

// ParseProvider maps a provider name back to its value.
func ParseProvider(name string) (Provider, bool) {
	for p := ProviderAuto; p < providerCount; p++ {
		if providerInfo[p].Name == name {
			return p, true
		}
	}
	return ProviderAuto, false
}

// License reports the license the provider's library is shipped under.
// Unknown providers are treated as copyleft.
func (p Provider) License() License {
	m, _ := p.meta()
	return m.License
}

func (p Provider) Features() Features {
	m, _ := p.meta()
	return m.Features
}

func (p Provider) CanEncode() bool {
	m, _ := p.meta()
	return m.Encoder
}

func (p Provider) CanDecode() bool {
	m, _ := p.meta()
	return m.Decoder
}

// Available reports whether the provider registered itself at startup.
// Libopus only does so once the shared library has been loaded.
func (p Provider) Available() bool {
	_, ok := p.meta()
	return ok && providerAvailable[p].Load()
}

func setProviderAvailable(p Provider) {
	if _, ok := p.meta(); ok {
		providerAvailable[p].Store(true)
	}
}
