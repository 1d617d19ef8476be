package trigger

import "fmt"

// Kind is the upload kind selected by a marker's leading character.
type Kind byte

const (
	KindContinuousRF Kind = 'c'
	KindMagnetometer Kind = 'm'
	KindLegacyCSV    Kind = 'g'
	// KindDataRequest is reserved; markers are classified but not ingested.
	KindDataRequest Kind = 'd'
)

// AllKinds lists every recognised kind.
var AllKinds = []Kind{KindContinuousRF, KindMagnetometer, KindLegacyCSV, KindDataRequest}

// ParseKind maps a leading character to a Kind.
func ParseKind(c byte) (Kind, bool) {
	switch k := Kind(c); k {
	case KindContinuousRF, KindMagnetometer, KindLegacyCSV, KindDataRequest:
		return k, true
	}
	return 0, false
}

func (k Kind) String() string {
	switch k {
	case KindContinuousRF:
		return "continuous-rf"
	case KindMagnetometer:
		return "magnetometer"
	case KindLegacyCSV:
		return "legacy-csv"
	case KindDataRequest:
		return "data-request"
	default:
		return fmt.Sprintf("kind(%q)", byte(k))
	}
}

// Layout is the home-directory arrangement a station dir was found in.
type Layout int

const (
	// LayoutFlat is <root>/<station>.
	LayoutFlat Layout = iota
	// LayoutNested is <root>/<nested>/<station>/home/<station>.
	LayoutNested
)

func (l Layout) String() string {
	if l == LayoutNested {
		return "nested"
	}
	return "flat"
}
