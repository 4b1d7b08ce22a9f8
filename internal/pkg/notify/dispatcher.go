// Package notify fans reconciliation results out to downstream automation
// endpoints (email sequences, community invites, analytics).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coursepay/coursepay/internal/pkg/bundle"
	"github.com/coursepay/coursepay/internal/pkg/env"
	"github.com/coursepay/coursepay/internal/pkg/reconcile"
)

const dispatchTimeout = 10 * time.Second

// Dispatcher posts notifications to one URL per destination. Deliveries are
// best effort: a dead endpoint must never fail or delay the webhook that
// triggered it.
type Dispatcher struct {
	baseURL    string
	httpClient *http.Client

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher posting to baseURL + "/" + destination.
func NewDispatcher(baseURL string) *Dispatcher {
	return &Dispatcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: dispatchTimeout},
	}
}

// NewDispatcherFromEnv reads NOTIFY_BASE_URL. An empty value yields a
// dispatcher that drops everything, which keeps local setups working without
// an automation backend.
func NewDispatcherFromEnv() *Dispatcher {
	return NewDispatcher(env.GetEnv("NOTIFY_BASE_URL", ""))
}

// Dispatch sends the notification to every destination concurrently and
// returns immediately. Failures are logged, never propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, destinations []bundle.Destination, n reconcile.Notification) {
	if d.baseURL == "" {
		return
	}

	body, err := json.Marshal(n)
	if err != nil {
		log.Printf("notify: marshal notification: %v", err)
		return
	}

	seen := make(map[bundle.Destination]bool, len(destinations))
	for _, destination := range destinations {
		if destination == "" || seen[destination] {
			continue
		}
		seen[destination] = true

		d.wg.Add(1)
		go func(destination bundle.Destination) {
			defer d.wg.Done()
			if err := d.post(destination, body); err != nil {
				log.Printf("notify: dispatch to %s failed: %v", destination, err)
			}
		}(destination)
	}
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown and in
// tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) post(destination bundle.Destination, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	url := d.baseURL + "/" + string(destination)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return nil
}

var _ reconcile.Notifier = (*Dispatcher)(nil)
