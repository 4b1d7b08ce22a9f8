package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/coursepay/coursepay/internal/pkg/bundle"
	"github.com/coursepay/coursepay/internal/pkg/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchPostsToEachDestination(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var bodies []reconcile.Notification

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var n reconcile.Notification
		require.NoError(t, json.Unmarshal(raw, &n))

		mu.Lock()
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, n)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewDispatcher(server.URL)
	d.Dispatch(context.Background(), []bundle.Destination{"main", "bundle_fb_ads", "main"}, reconcile.Notification{
		Email:      "buyer@example.com",
		ProductKey: "fb_ads",
		BundleKey:  "fb_ads",
	})
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	sort.Strings(paths)
	assert.Equal(t, []string{"/bundle_fb_ads", "/main"}, paths, "duplicate destinations collapse to one delivery")
	for _, n := range bodies {
		assert.Equal(t, "buyer@example.com", n.Email)
		assert.Equal(t, "fb_ads", n.ProductKey)
	}
}

func TestDispatchWithoutBaseURLIsNoop(t *testing.T) {
	d := NewDispatcher("")
	d.Dispatch(context.Background(), []bundle.Destination{"main"}, reconcile.Notification{Email: "x@example.com"})
	d.Wait()
}

func TestDispatchSwallowsEndpointErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := NewDispatcher(server.URL)
	d.Dispatch(context.Background(), []bundle.Destination{"main"}, reconcile.Notification{Email: "x@example.com"})
	d.Wait()
}
