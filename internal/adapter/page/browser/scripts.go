package browser

import (
	"encoding/json"
	"fmt"
)

// bindingName is the page-side function that forwards SDK events to Go.
const bindingName = "__quickchatEmit"

// bootstrapJS installs the registry of contexts and mounted experiences.
const bootstrapJS = `(function () {
  if (!window.__quickchat) {
    window.__quickchat = { next: 1, contexts: {}, experiences: {} };
  }
  return true;
})()`

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// injectJS returns a promise resolving once the script for src has loaded.
// A node left over from an earlier successful load is reused.
func injectJS(src string) string {
	return fmt.Sprintf(`(function (src) {
  return new Promise(function (resolve, reject) {
    var sel = 'script[data-quickchat-src="' + CSS.escape(src) + '"]';
    var existing = document.querySelector(sel);
    if (existing && existing.dataset.loaded === "1") { resolve(true); return; }
    if (existing) { existing.remove(); }
    var s = document.createElement("script");
    s.src = src;
    s.async = true;
    s.setAttribute("data-quickchat-src", src);
    s.onload = function () { s.dataset.loaded = "1"; resolve(true); };
    s.onerror = function () { s.remove(); reject(new Error("failed to load " + src)); };
    (document.head || document.documentElement).appendChild(s);
  });
})(%s)`, jsString(src))
}

// removeJS removes every node injected for src and drops the SDK global.
func removeJS(src, global string) string {
	return fmt.Sprintf(`(function (src, global) {
  var nodes = document.querySelectorAll('script[data-quickchat-src="' + CSS.escape(src) + '"]');
  nodes.forEach(function (n) { n.remove(); });
  try { delete window[global]; } catch (e) { window[global] = undefined; }
  return nodes.length;
})(%s, %s)`, jsString(src), jsString(global))
}

// capabilityJS reports whether the SDK global exposes its context factory.
func capabilityJS(global string) string {
	return fmt.Sprintf(`(function (global) {
  var sdk = window[global];
  return !!sdk && typeof sdk.createEmbeddingContext === "function";
})(%s)`, jsString(global))
}

// createContextJS creates an embedding context and returns its registry id.
func createContextJS(global string) string {
	return fmt.Sprintf(`(async function (global) {
  var qc = window.__quickchat;
  var ctx = await window[global].createEmbeddingContext();
  var id = "ctx" + (qc.next++);
  qc.contexts[id] = ctx;
  return id;
})(%s)`, jsString(global))
}

// mountOptions is passed to mountJS as a JSON object.
type mountOptions struct {
	ContextID string `json:"contextId"`
	MountID   string `json:"mountId"`
	Method    string `json:"method"`
	URL       string `json:"url"`
	Container string `json:"container"`
	Height    string `json:"height"`
	Width     string `json:"width"`
}

// mountJS mounts an experience into the container, creating the container when
// the page lacks it, and wires both SDK callbacks to the binding.
func mountJS(opts mountOptions) string {
	b, _ := json.Marshal(opts)
	return fmt.Sprintf(`(async function (o) {
  var qc = window.__quickchat;
  var container = document.querySelector(o.container);
  if (!container) {
    container = document.createElement("div");
    if (o.container.charAt(0) === "#") { container.id = o.container.slice(1); }
    document.body.appendChild(container);
  }
  var emit = function (channel) {
    return function (ev) {
      try {
        %s(JSON.stringify({
          mount: o.mountId,
          channel: channel,
          name: (ev && ev.eventName) || "",
          level: (ev && ev.eventLevel) || "",
          message: (ev && ev.message) || null
        }));
      } catch (e) {}
    };
  };
  var exp = await qc.contexts[o.contextId][o.method](
    { url: o.url, container: container, height: o.height, width: o.width, onChange: emit("frame") },
    { onMessage: emit("content") }
  );
  qc.experiences[o.mountId] = { experience: exp, contextId: o.contextId, container: o.container };
  return true;
})(%s)`, bindingName, string(b))
}

// unmountJS clears the container of a mounted experience and forgets it.
func unmountJS(mountID string) string {
	return fmt.Sprintf(`(function (id) {
  var qc = window.__quickchat;
  var e = qc && qc.experiences[id];
  if (!e) { return false; }
  delete qc.experiences[id];
  delete qc.contexts[e.contextId];
  var c = document.querySelector(e.container);
  if (c) { c.innerHTML = ""; }
  return true;
})(%s)`, jsString(mountID))
}
