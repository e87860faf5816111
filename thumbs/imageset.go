package thumbs

import (
	"strconv"
	"strings"
)

// Tier is one rendition size the site serves for every image.
type Tier struct {
	Size    int
	Segment string
}

// Tiers lists the renditions from small to large. GenerateImageSet relies on
// the ordering.
var Tiers = [...]Tier{
	{Size: 150, Segment: "/c/150x150"},
	{Size: 240, Segment: "/c/240x240"},
	{Size: 360, Segment: "/c/360x360_70"},
	{Size: 600, Segment: "/c/600x600"},
	{Size: 1200, Segment: ""},
}

// TierFor returns the tier with the given pixel size.
func TierFor(size int) (Tier, bool) {
	for _, t := range Tiers {
		if t.Size == size {
			return t, true
		}
	}
	return Tier{}, false
}

// Candidate is one entry of a responsive image set.
type Candidate struct {
	URL   string
	Scale float64
}

// ImageSet holds one candidate per tier, ascending, and the candidate chosen
// for the current device pixel ratio.
type ImageSet struct {
	Candidates []Candidate
	Default    Candidate
}

// GenerateImageSet builds the candidates for displaying ref at target CSS
// pixels. Square and automatic crops are always replaced by the uncropped
// master rendition; custom crops survive only when the user allows them.
func GenerateImageSet(target float64, ref Ref, s Settings, dpr float64) ImageSet {
	kind, suffix := "img-master", "_master1200.jpg"
	if s.AllowCustomCrop && ref.Crop == CropCustom {
		kind, suffix = "custom-thumb", "_custom1200.jpg"
	}
	set := ImageSet{Candidates: make([]Candidate, 0, len(Tiers))}
	for _, t := range Tiers {
		set.Candidates = append(set.Candidates, Candidate{
			URL:   "https://" + ref.Domain + t.Segment + "/" + kind + "/" + ref.Path + suffix,
			Scale: float64(t.Size) / target,
		})
	}
	set.Default = set.Pick(dpr)
	return set
}

// Pick returns the first candidate whose scale covers ratio, or the largest.
func (set ImageSet) Pick(ratio float64) Candidate {
	for _, c := range set.Candidates {
		if c.Scale >= ratio {
			return c
		}
	}
	if len(set.Candidates) == 0 {
		return Candidate{}
	}
	return set.Candidates[len(set.Candidates)-1]
}

// Srcset renders the candidates as an img srcset value.
func (set ImageSet) Srcset() string {
	parts := make([]string, 0, len(set.Candidates))
	for _, c := range set.Candidates {
		parts = append(parts, c.URL+" "+formatScale(c.Scale)+"x")
	}
	return strings.Join(parts, ", ")
}

// CSS renders a background-image value. Without image-set() support it falls
// back to the single candidate matching ratio.
func (set ImageSet) CSS(support ImageSetSupport, ratio float64) string {
	if !support.Supported() {
		return `url("` + set.Pick(ratio).URL + `")`
	}
	parts := make([]string, 0, len(set.Candidates))
	for _, c := range set.Candidates {
		parts = append(parts, `url("`+c.URL+`") `+formatScale(c.Scale)+"x")
	}
	return support.Prefix() + "image-set(" + strings.Join(parts, ", ") + ")"
}

func formatScale(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
