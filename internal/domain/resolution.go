package domain

import (
	"fmt"
	"strings"
)

// Resolution is an output resolution tier. It determines both output size and credit cost.
type Resolution string

const (
	Resolution1K Resolution = "1k"
	Resolution2K Resolution = "2k"
	Resolution4K Resolution = "4k"

	DefaultResolution = Resolution1K
)

var resolutionCredits = map[Resolution]int64{
	Resolution1K: 1,
	Resolution2K: 2,
	Resolution4K: 3,
}

var resolutionSizes = map[Resolution]string{
	Resolution1K: "1K",
	Resolution2K: "2K",
	Resolution4K: "4K",
}

// Resolutions lists the supported tiers in ascending order
func Resolutions() []Resolution {
	return []Resolution{Resolution1K, Resolution2K, Resolution4K}
}

// ParseResolution accepts "1k", "2K", ... Empty input yields DefaultResolution.
func ParseResolution(s string) (Resolution, error) {
	if s == "" {
		return DefaultResolution, nil
	}
	r := Resolution(strings.ToLower(s))
	if _, ok := resolutionCredits[r]; !ok {
		return "", fmt.Errorf("%w: unsupported resolution %q", ErrInvalidArgument, s)
	}
	return r, nil
}

// Credits returns the credit cost of the tier. Unknown tiers cost as much as the default tier.
func (r Resolution) Credits() int64 {
	if c, ok := resolutionCredits[r]; ok {
		return c
	}
	return resolutionCredits[DefaultResolution]
}

// ProviderSize returns the generative provider's size parameter, or "" when the tier is unset
func (r Resolution) ProviderSize() string {
	return resolutionSizes[r]
}
