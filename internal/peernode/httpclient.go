package peernode

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// postJSON marshals body, POSTs it to url, and unmarshals the response
// into out. It retries transient failures with exponential backoff, the
// same shape as the teacher's sendMessage retry loop
// (03-lock-distribuido/server/ricart_agrawala.go), since spec.md's error
// handling design only distinguishes "fatal to this cycle" from
// "recoverable at the transport layer" — retrying inside a single RPC
// attempt is a transport-layer concern, not a protocol one.
func postJSON(ctx context.Context, client *http.Client, url string, body, out interface{}, maxRetries int, initialDelay time.Duration) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request body")
	}

	delay := initialDelay
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return errors.Wrap(err, "build request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		func() {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				lastErr = errors.Errorf("unexpected status %d from %s", resp.StatusCode, url)
				return
			}
			if out != nil {
				lastErr = json.NewDecoder(resp.Body).Decode(out)
			} else {
				lastErr = nil
			}
		}()

		if lastErr == nil {
			return nil
		}
	}

	return errors.Wrapf(lastErr, "exhausted %d attempts against %s", maxRetries, url)
}
