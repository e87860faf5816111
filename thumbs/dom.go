package thumbs

// ElementKey identifies an element for the lifetime of its host document.
// Hosts hand out keys; the marker table uses them instead of element pointers.
type ElementKey uint64

// Element is the slice of the DOM the rewriters need. Tag names are lower case.
// Style reads the element's inline style, ComputedStyle the resolved value
// after the cascade. Writes never fail from the caller's point of view: hosts
// that can fail (a remote browser) log and carry on.
type Element interface {
	Key() ElementKey
	Tag() string
	Attr(name string) (string, bool)
	SetAttr(name, value string)
	HasClass(name string) bool
	Style(prop string) string
	SetStyle(prop, value string)
	ComputedStyle(prop string) string
	Parent() Element
	BoxSize() (width, height float64)
	Complete() bool
}

// Document gives the dispatcher the ability to scan subtrees.
type Document interface {
	Root() Element
	// QueryAll returns the descendants of root (root excluded) matching a CSS
	// selector, in document order.
	QueryAll(root Element, selector string) []Element
	// Path is the URL path of the page, used by site-specific workarounds.
	Path() string
}

// MutationKind mirrors the two MutationObserver record types the dispatcher
// reacts to.
type MutationKind int

const (
	ChildList MutationKind = iota
	Attributes
)

func (k MutationKind) String() string {
	switch k {
	case ChildList:
		return "childList"
	case Attributes:
		return "attributes"
	default:
		return "unknown"
	}
}

// MutationRecord is one observed change. Added holds element nodes only.
type MutationRecord struct {
	Kind          MutationKind
	Target        Element
	Added         []Element
	AttributeName string
}

// ObservedAttributes is the attribute filter the dispatcher honours.
var ObservedAttributes = []string{"class", "src", "style"}

func isObservedAttribute(name string) bool {
	for _, a := range ObservedAttributes {
		if a == name {
			return true
		}
	}
	return false
}
