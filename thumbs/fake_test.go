package thumbs

import "strings"

// fakeDoc is a minimal in-memory host. It records writes as mutation records
// so the dispatcher's feedback loop can be exercised.
type fakeDoc struct {
	root    *fakeEl
	path    string
	nextKey ElementKey
	records []MutationRecord
}

type fakeEl struct {
	doc        *fakeDoc
	key        ElementKey
	tag        string
	attrs      map[string]string
	style      map[string]string
	computed   map[string]string
	parent     *fakeEl
	children   []*fakeEl
	boxW, boxH float64
	loading    bool
	writes     int
}

func newFakeDoc(path string) *fakeDoc {
	d := &fakeDoc{path: path}
	d.root = d.newEl("html", nil)
	return d
}

func (d *fakeDoc) newEl(tag string, attrs map[string]string) *fakeEl {
	d.nextKey++
	el := &fakeEl{
		doc:      d,
		key:      d.nextKey,
		tag:      tag,
		attrs:    map[string]string{},
		style:    map[string]string{},
		computed: map[string]string{},
	}
	for k, v := range attrs {
		el.attrs[k] = v
	}
	if s, ok := attrs["style"]; ok {
		for _, decl := range strings.Split(s, ";") {
			name, value, found := strings.Cut(decl, ":")
			if found {
				el.style[strings.TrimSpace(name)] = strings.TrimSpace(value)
			}
		}
		delete(el.attrs, "style")
	}
	return el
}

// add creates a child of parent without recording a mutation.
func (d *fakeDoc) add(parent *fakeEl, tag string, attrs map[string]string) *fakeEl {
	el := d.newEl(tag, attrs)
	el.parent = parent
	parent.children = append(parent.children, el)
	return el
}

func (d *fakeDoc) TakeRecords() []MutationRecord {
	out := d.records
	d.records = nil
	return out
}

func (d *fakeDoc) Root() Element { return d.root }
func (d *fakeDoc) Path() string  { return d.path }

func (d *fakeDoc) QueryAll(root Element, selector string) []Element {
	start, ok := root.(*fakeEl)
	if !ok {
		return nil
	}
	tag, filter, _ := strings.Cut(selector, "[")
	var out []Element
	var walk func(*fakeEl)
	walk = func(e *fakeEl) {
		for _, c := range e.children {
			if c.tag == tag && (filter == "" || c.Style("background-image") != "") {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(start)
	return out
}

func (e *fakeEl) Key() ElementKey { return e.key }
func (e *fakeEl) Tag() string     { return e.tag }

func (e *fakeEl) Attr(name string) (string, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

func (e *fakeEl) SetAttr(name, value string) {
	e.attrs[name] = value
	e.writes++
	e.doc.records = append(e.doc.records, MutationRecord{Kind: Attributes, Target: e, AttributeName: name})
}

func (e *fakeEl) HasClass(name string) bool {
	for _, c := range strings.Fields(e.attrs["class"]) {
		if c == name {
			return true
		}
	}
	return false
}

func (e *fakeEl) Style(prop string) string { return e.style[prop] }

func (e *fakeEl) SetStyle(prop, value string) {
	if value == "" {
		delete(e.style, prop)
	} else {
		e.style[prop] = value
	}
	e.writes++
	e.doc.records = append(e.doc.records, MutationRecord{Kind: Attributes, Target: e, AttributeName: "style"})
}

func (e *fakeEl) ComputedStyle(prop string) string {
	if v, ok := e.style[prop]; ok {
		return v
	}
	return e.computed[prop]
}

func (e *fakeEl) Parent() Element {
	if e.parent == nil {
		return nil
	}
	return e.parent
}

func (e *fakeEl) BoxSize() (float64, float64) { return e.boxW, e.boxH }
func (e *fakeEl) Complete() bool             { return !e.loading }

// countingStats tallies outcomes per kind.
type countingStats map[Kind]map[Outcome]int

func (c countingStats) Observe(kind Kind, outcome Outcome) {
	if c[kind] == nil {
		c[kind] = map[Outcome]int{}
	}
	c[kind][outcome]++
}
