// internal/browser/shim/shim_test.go
package shim_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// -- a little dot import magic for the package under test --
	. "github.com/xkilldash9x/exegenesis-harness/internal/browser/shim"
)

const captureBase = "http://127.0.0.1:41234"

// fakeWindow gives goja just enough of a browser for the shim: a global
// window, navigator.sendBeacon, fetch and Response. Calls are recorded in
// `calls` and steered with beaconMode ("ok", "refuse", "throw", "absent").
const fakeWindow = `
var window = this;
var calls = { beacon: [], fetch: [] };
var beaconMode = %q;

function Response(body, init) {
	this.body = body;
	this.status = init.status;
	this.headers = init.headers;
}

window.navigator = {};
if (beaconMode !== "absent") {
	window.navigator.sendBeacon = function (url, data) {
		calls.beacon.push({ url: url, data: String(data) });
		if (beaconMode === "throw") { throw new Error("beacon unavailable"); }
		return beaconMode === "ok";
	};
}

window.fetch = function (url, init) {
	calls.fetch.push({ url: String(url), method: (init && init.method) || "GET", body: init && init.body !== undefined ? String(init.body) : "" });
	return Promise.resolve({ status: 201, upstream: true });
};
`

type recordedCall struct {
	URL    string `json:"url"`
	Data   string `json:"data"`
	Method string `json:"method"`
	Body   string `json:"body"`
}

type recorded struct {
	Beacon []recordedCall `json:"beacon"`
	Fetch  []recordedCall `json:"fetch"`
}

type jsHarness struct {
	t  *testing.T
	vm *goja.Runtime
}

func newJSHarness(t *testing.T, beaconMode string) *jsHarness {
	t.Helper()
	vm := goja.New()
	_, err := vm.RunString(fmt.Sprintf(fakeWindow, beaconMode))
	require.NoError(t, err)
	return &jsHarness{t: t, vm: vm}
}

func (h *jsHarness) install(baseURL string) {
	h.t.Helper()
	script, err := Build(baseURL)
	require.NoError(h.t, err)
	v, err := h.vm.RunString(script)
	require.NoError(h.t, err)
	assert.True(h.t, v.ToBoolean(), "shim should report installation")
}

func (h *jsHarness) run(src string) goja.Value {
	h.t.Helper()
	v, err := h.vm.RunString(src)
	require.NoError(h.t, err)
	return v
}

func (h *jsHarness) calls() recorded {
	h.t.Helper()
	var out recorded
	require.NoError(h.t, json.Unmarshal([]byte(h.run("JSON.stringify(calls)").String()), &out))
	return out
}

func TestBuild(t *testing.T) {
	t.Parallel()

	t.Run("should inject the quoted base URL", func(t *testing.T) {
		t.Parallel()
		script, err := Build(captureBase + "/")
		require.NoError(t, err)
		assert.NotContains(t, script, URLPlaceholder)
		assert.Contains(t, script, `})("`+captureBase+`");`)
	})

	t.Run("should drop query and fragment", func(t *testing.T) {
		t.Parallel()
		script, err := Build(captureBase + "/base/?x=1#frag")
		require.NoError(t, err)
		assert.Contains(t, script, `("`+captureBase+`/base")`)
	})

	t.Run("should reject non-http URLs", func(t *testing.T) {
		t.Parallel()
		for _, bad := range []string{"", "ftp://127.0.0.1", "127.0.0.1:9000", "http://", "javascript:alert(1)"} {
			_, err := Build(bad)
			assert.Error(t, err, "input %q", bad)
		}
	})

	t.Run("should return error for an empty template", func(t *testing.T) {
		t.Parallel()
		_, err := BuildFromTemplate("", captureBase)
		assert.EqualError(t, err, "template is empty")
	})

	t.Run("should return error when placeholder is missing", func(t *testing.T) {
		t.Parallel()
		_, err := BuildFromTemplate("(function(u){})();", captureBase)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "required placeholder")
	})

	t.Run("embedded template carries the placeholder once", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 1, strings.Count(Template(), URLPlaceholder))
	})
}

func TestShim_ForwardsPostViaBeaconAndMocksResponse(t *testing.T) {
	h := newJSHarness(t, "ok")
	h.install(captureBase)

	h.run(`
		var result;
		window.fetch("/api/generate-prompt", { method: "post", body: '{"goal":"Write a linked post"}' })
			.then(function (r) { result = r; });
	`)

	result := h.run("result").ToObject(h.vm)
	assert.Equal(t, int64(200), result.Get("status").ToInteger())
	assert.Equal(t, `{"prompt":"[MOCKED]"}`, result.Get("body").String())

	calls := h.calls()
	require.Len(t, calls.Beacon, 1)
	assert.Equal(t, captureBase+"/fetch", calls.Beacon[0].URL)
	assert.Equal(t, `{"goal":"Write a linked post"}`, calls.Beacon[0].Data)
	assert.Empty(t, calls.Fetch, "the real upstream must not be contacted")
	assert.Equal(t, int64(1), h.run("window.__harnessForwarded").ToInteger())
}

func TestShim_FallsBackToFetch(t *testing.T) {
	for _, mode := range []string{"refuse", "throw", "absent"} {
		t.Run(mode, func(t *testing.T) {
			h := newJSHarness(t, mode)
			h.install(captureBase)

			h.run(`var status; fetch("/submit", { method: "POST", body: "{\"a\":1}" }).then(function (r) { status = r.status; });`)
			assert.Equal(t, int64(200), h.run("status").ToInteger())

			calls := h.calls()
			require.Len(t, calls.Fetch, 1)
			assert.Equal(t, captureBase+"/fetch", calls.Fetch[0].URL)
			assert.Equal(t, "POST", calls.Fetch[0].Method)
			assert.Equal(t, `{"a":1}`, calls.Fetch[0].Body)
		})
	}
}

func TestShim_ForwardFailureDoesNotAffectCaller(t *testing.T) {
	h := newJSHarness(t, "throw")
	h.run(`window.fetch = function () { throw new Error("network down"); };`)
	h.install(captureBase)

	h.run(`var status; fetch("/submit", { method: "POST", body: "x" }).then(function (r) { status = r.status; });`)
	assert.Equal(t, int64(200), h.run("status").ToInteger())
}

func TestShim_NonPostPassesThrough(t *testing.T) {
	h := newJSHarness(t, "ok")
	h.install(captureBase)

	h.run(`var upstream; fetch("/data.json").then(function (r) { upstream = r.upstream; });`)
	assert.True(t, h.run("upstream").ToBoolean())

	calls := h.calls()
	assert.Empty(t, calls.Beacon)
	require.Len(t, calls.Fetch, 1)
	assert.Equal(t, "/data.json", calls.Fetch[0].URL)
}

func TestShim_WrapsBeacon(t *testing.T) {
	h := newJSHarness(t, "ok")
	h.install(captureBase)

	assert.True(t, h.run(`navigator.sendBeacon("https://analytics.example/collect", '{"event":"submit"}')`).ToBoolean())

	calls := h.calls()
	require.Len(t, calls.Beacon, 1)
	assert.Equal(t, captureBase+"/beacon", calls.Beacon[0].URL)
	assert.Equal(t, `{"event":"submit"}`, calls.Beacon[0].Data)
	assert.True(t, h.run("typeof window.__harnessOriginalBeacon === 'function'").ToBoolean())
	assert.True(t, h.run("typeof window.__harnessOriginalFetch === 'function'").ToBoolean())
}

func TestShim_ReinstallRetargetsWithoutDoubleForwarding(t *testing.T) {
	h := newJSHarness(t, "ok")
	h.install(captureBase)
	h.install("http://127.0.0.1:50000")

	h.run(`fetch("/submit", { method: "POST", body: "{}" });`)

	calls := h.calls()
	require.Len(t, calls.Beacon, 1)
	assert.Equal(t, "http://127.0.0.1:50000/fetch", calls.Beacon[0].URL)
}

// fakeEvaluator runs expressions in goja so Instrument and Forwarded can be
// exercised through their Go interfaces.
type fakeEvaluator struct {
	h       *jsHarness
	scripts []string
	err     error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, expression string, res interface{}) error {
	if f.err != nil {
		return f.err
	}
	v, err := f.h.vm.RunString(expression)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	data, err := json.Marshal(v.Export())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, res)
}

func (f *fakeEvaluator) AddScriptOnNewDocument(_ context.Context, script string) error {
	f.scripts = append(f.scripts, script)
	return nil
}

func TestInstrument(t *testing.T) {
	ctx := context.Background()
	ev := &fakeEvaluator{h: newJSHarness(t, "ok")}

	require.NoError(t, Instrument(ctx, ev, captureBase))
	n, err := Forwarded(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	ev.h.run(`fetch("/x", { method: "POST", body: "1" }); fetch("/y", { method: "POST", body: "2" });`)
	n, err = Forwarded(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestInstrument_Errors(t *testing.T) {
	ctx := context.Background()

	err := Instrument(ctx, &fakeEvaluator{err: errors.New("target closed")}, captureBase)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target closed")

	err = Instrument(ctx, &fakeEvaluator{}, "not a url")
	assert.Error(t, err)
}

func TestInstrumentPersistent(t *testing.T) {
	ev := &fakeEvaluator{}
	require.NoError(t, InstrumentPersistent(context.Background(), ev, captureBase))
	require.Len(t, ev.scripts, 1)
	assert.Contains(t, ev.scripts[0], `"`+captureBase+`"`)
}
