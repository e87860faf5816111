package thumbs

import (
	"fmt"
	"strings"
)

// ImageSetSupport records which image-set() syntax the host accepts for
// background-image.
type ImageSetSupport int

const (
	ImageSetNone ImageSetSupport = iota
	ImageSetStandard
	ImageSetWebkit
)

func (s ImageSetSupport) Supported() bool { return s != ImageSetNone }

// Prefix is the vendor prefix placed before image-set.
func (s ImageSetSupport) Prefix() string {
	if s == ImageSetWebkit {
		return "-webkit-"
	}
	return ""
}

func (s ImageSetSupport) String() string {
	switch s {
	case ImageSetStandard:
		return "standard"
	case ImageSetWebkit:
		return "webkit"
	default:
		return "none"
	}
}

// ParseImageSetSupport accepts the String forms plus a few aliases.
func ParseImageSetSupport(v string) (ImageSetSupport, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "standard", "std", "yes", "true":
		return ImageSetStandard, nil
	case "webkit", "-webkit-", "prefixed":
		return ImageSetWebkit, nil
	case "none", "no", "false", "":
		return ImageSetNone, nil
	}
	return ImageSetNone, fmt.Errorf("unknown image-set support %q", v)
}

const (
	probeStandard = `image-set(url("image1") 1x, url("image2") 2x)`
	probeWebkit   = `-webkit-image-set(url("image1") 1x, url("image2") 2x)`
)

// ProbeImageSet asks supports, the host's CSS.supports equivalent, about the
// standard syntax first and the prefixed one second.
func ProbeImageSet(supports func(property, value string) bool) ImageSetSupport {
	if supports == nil {
		return ImageSetNone
	}
	if supports("background-image", probeStandard) {
		return ImageSetStandard
	}
	if supports("background-image", probeWebkit) {
		return ImageSetWebkit
	}
	return ImageSetNone
}
