package runtime

// bootstrapSource defines the deterministic Web-standards subset of
// spec.md §4.6 as plain JS over a small set of native bridge
// functions the Go side installs before this script runs. Keeping
// Headers/Request/Response/URL as JS classes over native primitives
// (rather than hand-built goja Go objects) mirrors how the pack's
// other embedded-engine bridges (ec2-gossamer's wazero host-function
// table, NeoGoBros-neo-go's interop Context) expose a narrow native
// surface and build ergonomics on top of it in the guest language.
const bootstrapSource = `
(function(global) {
  "use strict";

  function defineNonConfigurable(obj, name, value) {
    Object.defineProperty(obj, name, {
      value: value, writable: false, enumerable: true, configurable: false,
    });
  }

  class Headers {
    constructor(init) {
      this._map = new Map();
      if (init) {
        if (init instanceof Headers) {
          for (const [k, v] of init._map) this._map.set(k, v);
        } else {
          for (const k of Object.keys(init)) this.set(k, init[k]);
        }
      }
    }
    set(name, value) { this._map.set(String(name).toLowerCase(), String(value)); }
    get(name) { const v = this._map.get(String(name).toLowerCase()); return v === undefined ? null : v; }
    has(name) { return this._map.has(String(name).toLowerCase()); }
    delete(name) { this._map.delete(String(name).toLowerCase()); }
    forEach(fn) { for (const [k, v] of this._map) fn(v, k, this); }
    entries() { return this._map.entries(); }
    toObject() { const o = {}; for (const [k, v] of this._map) o[k] = v; return o; }
  }

  class Request {
    constructor(input, init) {
      init = init || {};
      this.url = typeof input === "string" ? input : input.url;
      this.method = (init.method || "GET").toUpperCase();
      this.headers = new Headers(init.headers);
      this._body = init.body === undefined ? null : init.body;
    }
    async text() { return this._body === null ? "" : String(this._body); }
    async json() { return JSON.parse(this._body === null ? "null" : String(this._body)); }
  }

  class Response {
    constructor(body, init) {
      init = init || {};
      this._body = body === undefined ? null : body;
      this.status = init.status === undefined ? 200 : init.status;
      this.headers = new Headers(init.headers);
    }
    async text() { return this._body === null ? "" : String(this._body); }
    async json() { return JSON.parse(this._body === null ? "null" : String(this._body)); }
  }

  class URLSearchParams {
    constructor(init) {
      this._pairs = [];
      if (typeof init === "string") {
        const s = init.replace(/^\?/, "");
        if (s.length > 0) {
          for (const part of s.split("&")) {
            const eq = part.indexOf("=");
            const k = eq === -1 ? part : part.slice(0, eq);
            const v = eq === -1 ? "" : part.slice(eq + 1);
            this._pairs.push([decodeURIComponent(k), decodeURIComponent(v)]);
          }
        }
      }
    }
    get(key) { for (const [k, v] of this._pairs) if (k === key) return v; return null; }
    getAll(key) { return this._pairs.filter(([k]) => k === key).map(([, v]) => v); }
    has(key) { return this._pairs.some(([k]) => k === key); }
    append(key, value) { this._pairs.push([key, String(value)]); }
    toString() {
      return this._pairs.map(([k, v]) => encodeURIComponent(k) + "=" + encodeURIComponent(v)).join("&");
    }
  }

  class URL {
    constructor(input) {
      const m = /^([a-zA-Z][a-zA-Z0-9+.-]*):\/\/([^\/\?\#]*)(\/[^\?\#]*)?(\?[^\#]*)?(\#.*)?$/.exec(input);
      if (!m) throw new TypeError("invalid URL: " + input);
      this.protocol = m[1] + ":";
      this.host = m[2];
      this.pathname = m[3] || "/";
      this.search = m[4] || "";
      this.hash = m[5] || "";
      this.searchParams = new URLSearchParams(this.search);
      this.href = input;
    }
    toString() { return this.href; }
  }

  class URLPattern {
    constructor(init) {
      const pathname = typeof init === "string" ? init : (init && init.pathname) || "/*";
      this.pathname = pathname;
      this._names = [];
      const source = pathname
        .replace(/[.+?^${}()|[\]\\]/g, "\\$&")
        .replace(/:(\w+)/g, (_, name) => { this._names.push(name); return "([^/]+)"; })
        .replace(/\*/g, ".*");
      this._re = new RegExp("^" + source + "$");
    }
    test(input) {
      return this._re.test(this._pathOf(input));
    }
    exec(input) {
      const m = this._re.exec(this._pathOf(input));
      if (!m) return null;
      const groups = {};
      this._names.forEach((name, i) => { groups[name] = m[i + 1]; });
      return { pathname: { input: m[0], groups: groups } };
    }
    _pathOf(input) {
      if (typeof input === "string" && input.indexOf("://") !== -1) return new URL(input).pathname;
      if (input && typeof input === "object" && input.pathname) return input.pathname;
      return String(input);
    }
  }

  function atob(data) { return __jstz_base64_decode(String(data)); }
  function btoa(data) { return __jstz_base64_encode(String(data)); }

  class TextEncoder {
    encode(str) { return __jstz_text_encode(String(str)); }
  }
  class TextDecoder {
    decode(bytes) { return __jstz_text_decode(bytes); }
  }

  const console = {
    log: (...args) => __jstz_console("log", args.map(String).join(" ")),
    info: (...args) => __jstz_console("info", args.map(String).join(" ")),
    warn: (...args) => __jstz_console("warn", args.map(String).join(" ")),
    error: (...args) => __jstz_console("error", args.map(String).join(" ")),
    debug: (...args) => __jstz_console("debug", args.map(String).join(" ")),
  };

  function notSupportedTimer() { throw new Error("NotSupported: timers are disabled"); }

  const Kv = {
    get: (key) => { const r = __jstz_kv_get(key); return r === null ? null : JSON.parse(r); },
    set: (key, value) => __jstz_kv_set(key, JSON.stringify(value === undefined ? null : value)),
    delete: (key) => __jstz_kv_delete(key),
    has: (key) => __jstz_kv_has(key),
    listSubkeys: (key) => __jstz_kv_list_subkeys(key || ""),
  };

  const Ledger = {
    get selfAddress() { return __jstz_ledger_self(); },
    balance: (addr) => __jstz_ledger_balance(addr),
    transfer: (to, amount) => __jstz_ledger_transfer(to, amount),
  };

  function toPlainRequest(req) {
    return { url: req.url, method: req.method, headers: req.headers.toObject(), body: req._body };
  }

  function toResponse(plain) {
    return new Response(plain.body, { status: plain.status, headers: plain.headers });
  }

  const SmartFunction = {
    create: (code, initialBalance) => __jstz_sf_create(code, initialBalance || 0),
    call: (request) => toResponse(__jstz_sf_call(toPlainRequest(request))),
  };

  async function fetch(input, init) {
    const req = input instanceof Request ? input : new Request(input, init);
    if (req.url.indexOf("jstz://") === 0) {
      return SmartFunction.call(req);
    }
    return toResponse(__jstz_fetch(toPlainRequest(req)));
  }

  defineNonConfigurable(global, "Headers", Headers);
  defineNonConfigurable(global, "Request", Request);
  defineNonConfigurable(global, "Response", Response);
  defineNonConfigurable(global, "URL", URL);
  defineNonConfigurable(global, "URLSearchParams", URLSearchParams);
  defineNonConfigurable(global, "URLPattern", URLPattern);
  defineNonConfigurable(global, "TextEncoder", TextEncoder);
  defineNonConfigurable(global, "TextDecoder", TextDecoder);
  defineNonConfigurable(global, "atob", atob);
  defineNonConfigurable(global, "btoa", btoa);
  defineNonConfigurable(global, "console", console);
  defineNonConfigurable(global, "Kv", Kv);
  defineNonConfigurable(global, "Ledger", Ledger);
  defineNonConfigurable(global, "SmartFunction", SmartFunction);
  defineNonConfigurable(global, "fetch", fetch);
  defineNonConfigurable(global, "setTimeout", notSupportedTimer);
  defineNonConfigurable(global, "setInterval", notSupportedTimer);
  defineNonConfigurable(global, "clearTimeout", notSupportedTimer);
  defineNonConfigurable(global, "clearInterval", notSupportedTimer);
})(globalThis);
`
