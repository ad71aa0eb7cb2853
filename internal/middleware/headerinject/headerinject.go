// Package headerinject applies the cached header payload to each request
// before it is forwarded upstream. It reads the shared cache slot written by
// the refresh controller and is entirely decoupled from the refresh cycle's
// timing.
package headerinject

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/example/headergate/internal/logging"
	"github.com/example/headergate/internal/metrics"
	"github.com/example/headergate/internal/middleware"
	"github.com/example/headergate/internal/refresh"
	"github.com/example/headergate/internal/shareddata"
)

// PoweredBy identifies this component in the marker response header set on
// rejected requests.
const PoweredBy = "header-augmenting-filter"

const (
	poweredByHeader    = "Powered-By"
	notInitialisedBody = "Filter not initialised"
)

// Injector reads the shared header cache and augments outbound requests.
type Injector struct {
	store   shareddata.Store
	key     string
	metrics InjectMetrics
}

// InjectMetrics tracks injection activity.
type InjectMetrics struct {
	Total       atomic.Int64
	Injected    atomic.Int64
	Rejected    atomic.Int64
	DecodeFails atomic.Int64
}

// InjectStatus is the admin API snapshot.
type InjectStatus struct {
	Total       int64 `json:"total"`
	Injected    int64 `json:"injected"`
	Rejected    int64 `json:"rejected"`
	DecodeFails int64 `json:"decode_fails"`
}

// New creates an injector reading the controller's cache slot.
func New(store shareddata.Store) *Injector {
	return &Injector{
		store: store,
		key:   refresh.CacheKey,
	}
}

// Middleware returns the request-time injection middleware.
//
// A request arriving before the cache has ever been populated is rejected
// with 500: never forward a request that was supposed to be augmented but
// has no header data available. Once a cached value exists, a payload that
// fails to decode is an operational anomaly surfaced via logs, and the
// request is forwarded unmodified.
func (in *Injector) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			in.metrics.Total.Add(1)

			cached, _, ok := in.store.Get(in.key)
			if !ok {
				in.metrics.Rejected.Add(1)
				metrics.InjectionTotal.WithLabelValues("rejected").Inc()
				logging.Warn("filter not initialised")

				w.Header().Set(poweredByHeader, PoweredBy)
				w.WriteHeader(http.StatusInternalServerError)
				io.WriteString(w, notInitialisedBody)
				return
			}

			headers, err := parseHeaders(cached)
			if err != nil {
				in.metrics.DecodeFails.Add(1)
				metrics.InjectionTotal.WithLabelValues("decode_error").Inc()
				logging.Warn("no usable headers cached", zap.Error(err))

				next.ServeHTTP(w, r)
				return
			}

			for name, value := range headers {
				r.Header.Set(name, value)
			}

			in.metrics.Injected.Add(1)
			metrics.InjectionTotal.WithLabelValues("injected").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

// Status returns the admin API snapshot.
func (in *Injector) Status() InjectStatus {
	return InjectStatus{
		Total:       in.metrics.Total.Load(),
		Injected:    in.metrics.Injected.Load(),
		Rejected:    in.metrics.Rejected.Load(),
		DecodeFails: in.metrics.DecodeFails.Load(),
	}
}

// parseHeaders decodes the cached payload as a flat JSON object of header
// name to value, stringifying non-string values.
func parseHeaders(raw []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cached payload is not a JSON object")
	}

	headers := make(map[string]string, len(obj))
	for name, value := range obj {
		headers[name] = stringify(value)
	}
	return headers, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		// Nested arrays/objects are unexpected but harmless as JSON text.
		b, _ := json.Marshal(t)
		return string(b)
	}
}
