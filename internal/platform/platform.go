package platform

import "fmt"

// Code identifies a source marketplace. One row per code in the platform
// registry; created lazily on first use and immutable afterwards.
type Code string

const (
	Wildberries Code = "WB"
	Ozon        Code = "OZON"
	Detmir      Code = "DM"
)

// All lists the supported platforms in a stable order.
func All() []Code {
	return []Code{Wildberries, Ozon, Detmir}
}

// Parse validates a platform code string.
func Parse(s string) (Code, error) {
	for _, c := range All() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown platform code %q", s)
}

// Name returns a display name for the platform.
func (c Code) Name() string {
	switch c {
	case Wildberries:
		return "Wildberries"
	case Ozon:
		return "Ozon"
	case Detmir:
		return "Detskiy Mir"
	default:
		return string(c)
	}
}
