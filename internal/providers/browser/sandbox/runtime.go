package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
)

var errScriptTimeout = errors.New("patch script exceeded its time budget")

// Runtime wraps a goja VM whose globals are restricted by a Grant. One
// Runtime serves exactly one render and is never reused.
type Runtime struct {
	vm     *goja.Runtime
	config Config
	grant  Grant
	dom    *DOM
	report func(Diagnostic)

	patch   int // patch currently executing
	timerID int64
	nodes   map[*goja.Object]*goquery.Selection
}

func newRuntime(config Config, grant Grant, dom *DOM, report func(Diagnostic)) (*Runtime, error) {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	r := &Runtime{
		vm:     goja.New(),
		config: config,
		grant:  grant,
		dom:    dom,
		report: report,
		patch:  -1,
		nodes:  make(map[*goja.Object]*goquery.Selection),
	}

	if config.MaxCallStackSize > 0 {
		r.vm.SetMaxCallStackSize(config.MaxCallStackSize)
	}

	if err := r.setupGlobals(); err != nil {
		return nil, err
	}
	return r, nil
}

// Execute runs one patch script under the configured timeout. The interrupt
// watcher is fully stopped before the interrupt flag is cleared so a late
// timeout cannot leak into the next patch.
func (r *Runtime) Execute(ctx context.Context, script PatchScript) error {
	r.patch = script.Index

	timer := time.NewTimer(r.config.Timeout)
	defer timer.Stop()

	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-timer.C:
			r.vm.Interrupt(errScriptTimeout)
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	_, err := r.vm.RunScript(fmt.Sprintf("patch-%d.js", script.Index), script.Source)

	close(stop)
	<-exited
	r.vm.ClearInterrupt()
	return err
}

func (r *Runtime) diag(kind DiagnosticKind, level, msg string) {
	r.report(Diagnostic{Kind: kind, Patch: r.patch, Level: level, Message: msg, Time: time.Now()})
}

// deny records a capability-denied diagnostic and throws a SecurityError
// into the calling script.
func (r *Runtime) deny(feature, reason string) {
	msg := feature + " blocked: " + reason
	r.diag(KindCapabilityDenied, "", msg)
	panic(r.securityError(msg))
}

func (r *Runtime) securityError(msg string) goja.Value {
	e, err := r.vm.New(r.vm.Get("Error"), r.vm.ToValue(msg))
	if err != nil {
		return r.vm.NewTypeError(msg)
	}
	_ = e.Set("name", "SecurityError")
	return e
}

func (r *Runtime) fn(f func(goja.FunctionCall) goja.Value) goja.Value {
	return r.vm.ToValue(f)
}

func (r *Runtime) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getter := r.fn(func(goja.FunctionCall) goja.Value { return get() })
	var setter goja.Value
	if set != nil {
		setter = r.fn(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	_ = obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

// setupGlobals configures global objects according to the grant
func (r *Runtime) setupGlobals() error {
	global := r.vm.GlobalObject()

	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}
	_ = r.vm.Set("window", global)
	_ = r.vm.Set("self", global)

	console := r.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(level, r.makeConsoleFunc(level))
	}
	_ = r.vm.Set("console", console)

	r.setupTimers()
	r.setupNetwork()
	r.setupStorage(global)
	r.setupWindowing(global)

	document, err := r.makeDocument()
	if err != nil {
		return err
	}
	return r.vm.Set("document", document)
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		r.diag(KindConsole, level, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

// Timers are recorded but never fire.
func (r *Runtime) setupTimers() {
	schedule := func(name string) goja.Value {
		return r.fn(func(call goja.FunctionCall) goja.Value {
			r.timerID++
			delay := call.Argument(1).ToInteger()
			r.diag(KindTimer, "", fmt.Sprintf("%s(%dms) recorded, not scheduled", name, delay))
			return r.vm.ToValue(r.timerID)
		})
	}
	noop := r.fn(func(goja.FunctionCall) goja.Value { return goja.Undefined() })

	for _, name := range []string{"setTimeout", "setInterval", "requestAnimationFrame", "requestIdleCallback", "queueMicrotask"} {
		_ = r.vm.Set(name, schedule(name))
	}
	for _, name := range []string{"clearTimeout", "clearInterval", "cancelAnimationFrame", "cancelIdleCallback"} {
		_ = r.vm.Set(name, noop)
	}
}

// The preview runtime has no network; page scripts running in the browser
// frame are constrained by the CSP sandbox instead.
func (r *Runtime) setupNetwork() {
	for _, name := range []string{"fetch", "importScripts"} {
		feature := name
		_ = r.vm.Set(name, r.fn(func(goja.FunctionCall) goja.Value {
			r.deny(feature, "network access is not granted")
			return goja.Undefined()
		}))
	}
	for _, name := range []string{"XMLHttpRequest", "WebSocket", "EventSource"} {
		feature := name
		_ = r.vm.Set(name, func(goja.ConstructorCall) *goja.Object {
			r.deny(feature, "network access is not granted")
			return nil
		})
	}

	navigator := r.vm.NewObject()
	_ = navigator.Set("userAgent", "Mozilla/5.0 (compatible; PreviewSandbox)")
	_ = navigator.Set("language", "en-US")
	_ = navigator.Set("cookieEnabled", r.grant.Has(SameOrigin))
	_ = navigator.Set("sendBeacon", r.fn(func(goja.FunctionCall) goja.Value {
		r.deny("navigator.sendBeacon", "network access is not granted")
		return goja.Undefined()
	}))
	_ = r.vm.Set("navigator", navigator)
}

// Storage is only reachable with same-origin, and then only as a throwaway
// in-memory store owned by this runtime.
func (r *Runtime) setupStorage(global *goja.Object) {
	for _, name := range []string{"localStorage", "sessionStorage"} {
		feature := name
		var store *goja.Object
		if r.grant.Has(SameOrigin) {
			store = r.makeStorage()
		}
		r.accessor(global, feature, func() goja.Value {
			if store == nil {
				r.deny(feature, "sandbox does not grant same-origin")
			}
			return store
		}, nil)
	}
}

func (r *Runtime) makeStorage() *goja.Object {
	items := map[string]string{}
	var keys []string

	store := r.vm.NewObject()
	_ = store.Set("getItem", func(key string) goja.Value {
		if v, ok := items[key]; ok {
			return r.vm.ToValue(v)
		}
		return goja.Null()
	})
	_ = store.Set("setItem", func(key, value string) {
		if _, ok := items[key]; !ok {
			keys = append(keys, key)
		}
		items[key] = value
	})
	_ = store.Set("removeItem", func(key string) {
		if _, ok := items[key]; !ok {
			return
		}
		delete(items, key)
		for i, k := range keys {
			if k == key {
				keys = append(keys[:i], keys[i+1:]...)
				break
			}
		}
	})
	_ = store.Set("clear", func() {
		items = map[string]string{}
		keys = nil
	})
	_ = store.Set("key", func(i int) goja.Value {
		if i < 0 || i >= len(keys) {
			return goja.Null()
		}
		return r.vm.ToValue(keys[i])
	})
	r.accessor(store, "length", func() goja.Value { return r.vm.ToValue(len(keys)) }, nil)
	return store
}

func (r *Runtime) setupWindowing(global *goja.Object) {
	_ = r.vm.Set("open", r.fn(func(call goja.FunctionCall) goja.Value {
		if !r.grant.Has(Popups) {
			r.deny("window.open", "sandbox does not grant popups")
		}
		r.diag(KindMessage, "", "window.open("+call.Argument(0).String()+") suppressed")
		return goja.Null()
	}))

	for _, name := range []string{"alert", "confirm", "prompt"} {
		modal := name
		_ = r.vm.Set(modal, r.fn(func(call goja.FunctionCall) goja.Value {
			if !r.grant.Has(Modals) {
				// Browsers ignore modals in a sandbox without allow-modals.
				r.diag(KindCapabilityDenied, "", modal+" ignored: sandbox does not grant modals")
			} else {
				r.diag(KindModal, "", modal+": "+call.Argument(0).String())
			}
			switch modal {
			case "confirm":
				return r.vm.ToValue(false)
			case "prompt":
				return goja.Null()
			}
			return goja.Undefined()
		}))
	}

	_ = r.vm.Set("location", r.makeLocation(r.baseURL()))

	parent := r.vm.NewObject()
	_ = parent.Set("postMessage", r.makePostMessage())
	_ = r.vm.Set("parent", parent)

	top := r.vm.NewObject()
	_ = top.Set("postMessage", r.makePostMessage())
	topLocation := r.vm.NewObject()
	r.accessor(topLocation, "href", func() goja.Value {
		r.deny("top.location", "cross-origin frame access")
		return goja.Undefined()
	}, func(goja.Value) {
		r.deny("top.location", "sandbox never grants top-navigation")
	})
	_ = topLocation.Set("assign", r.fn(func(goja.FunctionCall) goja.Value {
		r.deny("top.location.assign", "sandbox never grants top-navigation")
		return goja.Undefined()
	}))
	_ = topLocation.Set("replace", r.fn(func(goja.FunctionCall) goja.Value {
		r.deny("top.location.replace", "sandbox never grants top-navigation")
		return goja.Undefined()
	}))
	r.accessor(top, "location", func() goja.Value { return topLocation }, func(goja.Value) {
		r.deny("top.location", "sandbox never grants top-navigation")
	})
	_ = r.vm.Set("top", top)
	_ = global.Set("frameElement", goja.Null())
}

// makePostMessage records messages sent to the host. Script error reports
// from the composer's guards become script-error diagnostics.
func (r *Runtime) makePostMessage() goja.Value {
	return r.fn(func(call goja.FunctionCall) goja.Value {
		msg, _ := call.Argument(0).Export().(map[string]interface{})
		if t, _ := msg["type"].(string); t == "preview:script-error" {
			patch := r.patch
			switch v := msg["patch"].(type) {
			case int64:
				patch = int(v)
			case float64:
				patch = int(v)
			}
			text, _ := msg["message"].(string)
			r.report(Diagnostic{Kind: KindScriptError, Patch: patch, Message: text, Time: time.Now()})
			return goja.Undefined()
		}
		r.diag(KindMessage, "", call.Argument(0).String())
		return goja.Undefined()
	})
}

func (r *Runtime) baseURL() *url.URL {
	if href, ok := r.dom.Query("base[href]").First().Attr("href"); ok {
		if u, err := url.Parse(href); err == nil && u.IsAbs() {
			return u
		}
	}
	return &url.URL{Scheme: "about", Opaque: "srcdoc"}
}

func (r *Runtime) makeLocation(u *url.URL) *goja.Object {
	loc := r.vm.NewObject()
	_ = loc.Set("href", u.String())
	_ = loc.Set("protocol", u.Scheme+":")
	_ = loc.Set("host", u.Host)
	_ = loc.Set("hostname", u.Hostname())
	_ = loc.Set("pathname", u.EscapedPath())
	_ = loc.Set("search", func() string {
		if u.RawQuery == "" {
			return ""
		}
		return "?" + u.RawQuery
	}())
	_ = loc.Set("hash", "")
	// Opaque origin unless same-origin is granted.
	origin := "null"
	if r.grant.Has(SameOrigin) && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
	}
	_ = loc.Set("origin", origin)
	_ = loc.Set("reload", r.fn(func(goja.FunctionCall) goja.Value {
		r.diag(KindMessage, "", "location.reload() ignored")
		return goja.Undefined()
	}))
	return loc
}
