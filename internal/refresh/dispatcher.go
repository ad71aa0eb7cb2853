package refresh

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/example/headergate/config"
	"github.com/example/headergate/internal/logging"
)

// requestTimeout bounds each call to the header-providing service.
const requestTimeout = 5 * time.Second

// Dispatcher starts an asynchronous call to the header-providing service.
// A non-nil return value means the call could not be started at all; any
// failure after that surfaces as an empty body passed to done, which is
// invoked exactly once from another goroutine.
type Dispatcher interface {
	Dispatch(cluster, path, authority string, done func(body []byte)) error
}

// HTTPDispatcher resolves cluster names against the configured cluster map
// and performs the call over net/http with a bounded timeout.
type HTTPDispatcher struct {
	clusters map[string]config.ClusterConfig
	client   *http.Client
}

// NewHTTPDispatcher creates a dispatcher over the given clusters.
func NewHTTPDispatcher(clusters map[string]config.ClusterConfig) *HTTPDispatcher {
	return &HTTPDispatcher{
		clusters: clusters,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

func (d *HTTPDispatcher) Dispatch(cluster, path, authority string, done func([]byte)) error {
	cc, ok := d.clusters[cluster]
	if !ok {
		return fmt.Errorf("unknown cluster %q", cluster)
	}

	scheme := cc.Scheme
	if scheme == "" {
		scheme = "http"
	}

	req, err := http.NewRequest(http.MethodGet, scheme+"://"+cc.Address+path, nil)
	if err != nil {
		return fmt.Errorf("building request for cluster %q: %w", cluster, err)
	}
	req.Host = authority

	go func() {
		resp, err := d.client.Do(req)
		if err != nil {
			logging.Warn("header providing service call failed",
				zap.String("cluster", cluster),
				zap.Error(err),
			)
			done(nil)
			return
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			logging.Warn("reading header providing service response failed",
				zap.String("cluster", cluster),
				zap.Error(err),
			)
			done(nil)
			return
		}
		done(body)
	}()

	return nil
}
