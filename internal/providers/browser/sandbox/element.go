package sandbox

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
)

func (r *Runtime) makeDocument() (*goja.Object, error) {
	doc := r.vm.NewObject()

	_ = doc.Set("querySelector", func(selector string) goja.Value {
		return r.element(r.dom.Query(selector).First())
	})
	_ = doc.Set("querySelectorAll", func(selector string) goja.Value {
		return r.elements(r.dom.Query(selector))
	})
	_ = doc.Set("getElementById", func(id string) goja.Value {
		return r.element(r.dom.Query("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			v, _ := s.Attr("id")
			return v == id
		}).First())
	})
	_ = doc.Set("getElementsByClassName", func(class string) goja.Value {
		return r.elements(r.dom.Query("[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.HasClass(class)
		}))
	})
	_ = doc.Set("getElementsByTagName", func(tag string) goja.Value {
		return r.elements(r.dom.Query(tag))
	})
	_ = doc.Set("createElement", func(tag string) goja.Value {
		return r.element(r.dom.CreateElement(tag))
	})
	_ = doc.Set("addEventListener", r.fn(func(goja.FunctionCall) goja.Value { return goja.Undefined() }))
	_ = doc.Set("removeEventListener", r.fn(func(goja.FunctionCall) goja.Value { return goja.Undefined() }))
	_ = doc.Set("readyState", "complete")

	for _, name := range []string{"head", "body"} {
		tag := name
		r.accessor(doc, tag, func() goja.Value { return r.element(r.dom.Query(tag).First()) }, nil)
	}
	r.accessor(doc, "documentElement", func() goja.Value {
		return r.element(r.dom.Query("html").First())
	}, nil)
	r.accessor(doc, "title", func() goja.Value {
		return r.vm.ToValue(strings.TrimSpace(r.dom.Query("title").First().Text()))
	}, func(v goja.Value) {
		title := r.dom.Query("title").First()
		if title.Length() == 0 {
			r.dom.Query("head").First().AppendHtml("<title></title>")
			title = r.dom.Query("title").First()
		}
		title.SetText(v.String())
		r.change("set_text", title, "title", v.String())
	})

	r.accessor(doc, "cookie", func() goja.Value {
		if !r.grant.Has(SameOrigin) {
			r.deny("document.cookie", "sandbox does not grant same-origin")
		}
		return r.vm.ToValue("")
	}, func(goja.Value) {
		if !r.grant.Has(SameOrigin) {
			r.deny("document.cookie", "sandbox does not grant same-origin")
		}
		// Cookies are never persisted.
	})

	return doc, nil
}

func (r *Runtime) change(kind string, s *goquery.Selection, property, value string) {
	r.dom.record(DOMChange{
		Type:     kind,
		Target:   describe(s),
		Property: property,
		Value:    value,
		Patch:    r.patch,
	})
}

func (r *Runtime) elements(s *goquery.Selection) goja.Value {
	items := make([]interface{}, 0, s.Length())
	s.Each(func(_ int, e *goquery.Selection) {
		items = append(items, r.element(e))
	})
	return r.vm.NewArray(items...)
}

// element creates a proxy for a DOM element; an empty selection is null.
func (r *Runtime) element(s *goquery.Selection) goja.Value {
	if s == nil || s.Length() == 0 {
		return goja.Null()
	}
	s = s.First()

	obj := r.vm.NewObject()
	r.nodes[obj] = s

	_ = obj.Set("tagName", strings.ToUpper(goquery.NodeName(s)))
	_ = obj.Set("nodeName", strings.ToUpper(goquery.NodeName(s)))

	r.attrAccessor(obj, s, "id", "id")
	r.attrAccessor(obj, s, "className", "class")

	text := func() goja.Value { return r.vm.ToValue(s.Text()) }
	setText := func(v goja.Value) {
		s.SetText(v.String())
		r.change("set_text", s, "textContent", v.String())
	}
	r.accessor(obj, "textContent", text, setText)
	r.accessor(obj, "innerText", text, setText)

	r.accessor(obj, "innerHTML", func() goja.Value {
		h, _ := s.Html()
		return r.vm.ToValue(h)
	}, func(v goja.Value) {
		s.SetHtml(v.String())
		r.change("set_html", s, "innerHTML", v.String())
	})
	r.accessor(obj, "outerHTML", func() goja.Value {
		h, _ := goquery.OuterHtml(s)
		return r.vm.ToValue(h)
	}, nil)

	r.accessor(obj, "parentElement", func() goja.Value { return r.element(s.Parent()) }, nil)
	r.accessor(obj, "children", func() goja.Value { return r.elements(s.Children()) }, nil)

	_ = obj.Set("getAttribute", func(name string) goja.Value {
		if v, ok := s.Attr(name); ok {
			return r.vm.ToValue(v)
		}
		return goja.Null()
	})
	_ = obj.Set("hasAttribute", func(name string) bool {
		_, ok := s.Attr(name)
		return ok
	})
	_ = obj.Set("setAttribute", func(name, value string) {
		s.SetAttr(name, value)
		r.change("set_attribute", s, name, value)
	})
	_ = obj.Set("removeAttribute", func(name string) {
		s.RemoveAttr(name)
		r.change("remove_attribute", s, name, "")
	})
	_ = obj.Set("remove", func() {
		r.change("remove", s, "", "")
		s.Remove()
	})
	_ = obj.Set("appendChild", r.fn(func(call goja.FunctionCall) goja.Value {
		child := r.selection(call.Argument(0))
		if child == nil {
			panic(r.vm.NewTypeError("appendChild: argument is not an element"))
		}
		s.AppendSelection(child)
		r.change("append_child", s, "", describe(child))
		return call.Argument(0)
	}))
	_ = obj.Set("insertAdjacentHTML", func(position, markup string) {
		switch strings.ToLower(position) {
		case "beforebegin":
			s.BeforeHtml(markup)
		case "afterbegin":
			s.PrependHtml(markup)
		case "afterend":
			s.AfterHtml(markup)
		default:
			s.AppendHtml(markup)
		}
		r.change("insert_html", s, position, markup)
	})
	_ = obj.Set("querySelector", func(selector string) goja.Value {
		return r.element(s.Find(selector).First())
	})
	_ = obj.Set("querySelectorAll", func(selector string) goja.Value {
		return r.elements(s.Find(selector))
	})
	_ = obj.Set("addEventListener", r.fn(func(goja.FunctionCall) goja.Value { return goja.Undefined() }))
	_ = obj.Set("removeEventListener", r.fn(func(goja.FunctionCall) goja.Value { return goja.Undefined() }))

	_ = obj.Set("classList", r.makeClassList(s))
	_ = obj.Set("style", r.vm.NewDynamicObject(newStyleDecl(r, s)))

	return obj
}

func (r *Runtime) attrAccessor(obj *goja.Object, s *goquery.Selection, prop, attr string) {
	r.accessor(obj, prop, func() goja.Value {
		v, _ := s.Attr(attr)
		return r.vm.ToValue(v)
	}, func(v goja.Value) {
		s.SetAttr(attr, v.String())
		r.change("set_attribute", s, attr, v.String())
	})
}

func (r *Runtime) selection(v goja.Value) *goquery.Selection {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	return r.nodes[obj]
}

func (r *Runtime) makeClassList(s *goquery.Selection) *goja.Object {
	list := r.vm.NewObject()
	_ = list.Set("add", r.fn(func(call goja.FunctionCall) goja.Value {
		for _, a := range call.Arguments {
			s.AddClass(a.String())
			r.change("add_class", s, "class", a.String())
		}
		return goja.Undefined()
	}))
	_ = list.Set("remove", r.fn(func(call goja.FunctionCall) goja.Value {
		for _, a := range call.Arguments {
			s.RemoveClass(a.String())
			r.change("remove_class", s, "class", a.String())
		}
		return goja.Undefined()
	}))
	_ = list.Set("toggle", func(class string) bool {
		s.ToggleClass(class)
		r.change("toggle_class", s, "class", class)
		return s.HasClass(class)
	})
	_ = list.Set("contains", func(class string) bool {
		return s.HasClass(class)
	})
	return list
}

// styleDecl backs element.style; writes are mirrored into the style attribute.
type styleDecl struct {
	r     *Runtime
	s     *goquery.Selection
	props map[string]string
}

func newStyleDecl(r *Runtime, s *goquery.Selection) *styleDecl {
	d := &styleDecl{r: r, s: s, props: map[string]string{}}
	d.parse(s.AttrOr("style", ""))
	return d
}

func (d *styleDecl) parse(css string) {
	for _, decl := range strings.Split(css, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if name = strings.TrimSpace(name); name != "" {
			d.props[name] = strings.TrimSpace(value)
		}
	}
}

func (d *styleDecl) cssText() string {
	names := make([]string, 0, len(d.props))
	for n := range d.props {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteString(": ")
		b.WriteString(d.props[n])
		b.WriteString("; ")
	}
	return strings.TrimSpace(b.String())
}

func (d *styleDecl) write(property, value string) {
	d.s.SetAttr("style", d.cssText())
	d.r.change("set_style", d.s, property, value)
}

func (d *styleDecl) Get(key string) goja.Value {
	switch key {
	case "cssText":
		return d.r.vm.ToValue(d.cssText())
	case "setProperty":
		return d.r.vm.ToValue(func(name, value string) { d.Set(name, d.r.vm.ToValue(value)) })
	case "getPropertyValue":
		return d.r.vm.ToValue(func(name string) string { return d.props[kebab(name)] })
	case "removeProperty":
		return d.r.vm.ToValue(func(name string) { d.Delete(name) })
	}
	return d.r.vm.ToValue(d.props[kebab(key)])
}

func (d *styleDecl) Set(key string, val goja.Value) bool {
	if key == "cssText" {
		d.props = map[string]string{}
		d.parse(val.String())
		d.write("cssText", val.String())
		return true
	}
	name := kebab(key)
	if v := val.String(); v == "" {
		delete(d.props, name)
	} else {
		d.props[name] = v
	}
	d.write(name, val.String())
	return true
}

func (d *styleDecl) Has(key string) bool {
	_, ok := d.props[kebab(key)]
	return ok
}

func (d *styleDecl) Delete(key string) bool {
	name := kebab(key)
	if _, ok := d.props[name]; ok {
		delete(d.props, name)
		d.write(name, "")
	}
	return true
}

func (d *styleDecl) Keys() []string {
	keys := make([]string, 0, len(d.props))
	for k := range d.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// kebab converts backgroundColor to background-color; custom properties and
// already hyphenated names pass through.
func kebab(name string) string {
	if strings.HasPrefix(name, "--") || strings.Contains(name, "-") {
		return name
	}
	var b strings.Builder
	for _, c := range name {
		if c >= 'A' && c <= 'Z' {
			b.WriteByte('-')
			b.WriteRune(c + ('a' - 'A'))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
