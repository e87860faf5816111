package live

import (
	"context"
	"fmt"
	"strconv"

	"thumbfix/thumbs"
)

// pageInfo is what the rewriter needs to know about the open page.
type pageInfo struct {
	DevicePixelRatio float64 `json:"dpr"`
	URL              string  `json:"url"`
	Host             string  `json:"host"`
	Path             string  `json:"path"`
}

const pageInfoScript = `({
	dpr: window.devicePixelRatio || 1,
	url: location.href,
	host: location.hostname,
	path: location.pathname
})`

func probePage(ctx context.Context, be backend) (pageInfo, error) {
	var info pageInfo
	if err := be.Evaluate(ctx, pageInfoScript, &info); err != nil {
		return info, fmt.Errorf("probe page: %w", err)
	}
	if info.DevicePixelRatio <= 0 {
		info.DevicePixelRatio = 1
	}
	return info, nil
}

// probeImageSet asks the page's CSS.supports which image-set() syntax the
// browser understands.
func probeImageSet(ctx context.Context, be backend) thumbs.ImageSetSupport {
	return thumbs.ProbeImageSet(func(property, value string) bool {
		var ok bool
		expr := "CSS.supports(" + strconv.Quote(property) + ", " + strconv.Quote(value) + ")"
		if err := be.Evaluate(ctx, expr, &ok); err != nil {
			return false
		}
		return ok
	})
}

// injectCornersScript appends the corner stylesheet once.
func injectCornersScript() string {
	return `(() => {
	if (document.getElementById(` + strconv.Quote(thumbs.CornerStyleID) + `)) return false;
	const style = document.createElement("style");
	style.id = ` + strconv.Quote(thumbs.CornerStyleID) + `;
	style.textContent = ` + strconv.Quote(thumbs.CornerStylesheet) + `;
	(document.head || document.documentElement).appendChild(style);
	return true;
})()`
}

func injectCorners(ctx context.Context, be backend) (bool, error) {
	var added bool
	if err := be.Evaluate(ctx, injectCornersScript(), &added); err != nil {
		return false, fmt.Errorf("inject corners: %w", err)
	}
	return added, nil
}
