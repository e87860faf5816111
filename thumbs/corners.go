package thumbs

import "strings"

// CornerHost is the only host whose illustration cards get square corners.
const CornerHost = "www.pixiv.net"

// CornerStyleID is set on the injected style element so it is added once.
const CornerStyleID = "thumbfix-corners"

// CornerStylesheet removes the rounded corners the site draws over
// illustration cards, which would otherwise clip uncropped thumbnails.
const CornerStylesheet = `
div[type="illust"] {
  border-radius: 0;
}
div[type="illust"] img {
  border-radius: 0;
  background: var(--charcoal-background1);
}
div[type="illust"] a > div::before {
  border-radius: 0;
  background: transparent;
  box-shadow: inset 0 0 0 1px var(--charcoal-border);
}
`

// WantsCorners reports whether the corner stylesheet applies to host.
func WantsCorners(host string) bool {
	return strings.EqualFold(host, CornerHost)
}
