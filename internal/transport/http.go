// Package transport provides the reference HTTP implementation of the sync
// engine's transport collaborator: JSON batch upload, remote change pull
// with a persisted cursor, a polling connectivity watcher, and delta-based
// blob re-upload.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"offsync/internal/config"
	"offsync/internal/delta"
	"offsync/internal/logger"
	"offsync/internal/queue"
	"offsync/internal/storage"
	"offsync/internal/sync"
)

const (
	cursorKey    = "sync_cursor"
	entityPrefix = "entity/"
	blobPrefix   = "blob/"
)

// HTTPTransport talks JSON to a remote sync endpoint.
type HTTPTransport struct {
	baseURL   string
	authToken string
	client    *http.Client
	store     storage.Store

	blockSize int
	minRatio  float64
	interval  time.Duration

	mu        gosync.Mutex
	listeners map[int64]func(bool)
	nextID    int64
	connected bool
	stopCh    chan struct{}
	wg        gosync.WaitGroup
}

func New(remote config.RemoteConfig, syncCfg config.SyncConfig, store storage.Store) *HTTPTransport {
	timeout := remote.GetRequestTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	interval := remote.GetHealthInterval()
	if interval <= 0 {
		interval = 15 * time.Second
	}

	return &HTTPTransport{
		baseURL:   remote.BaseURL,
		authToken: remote.AuthToken,
		client:    &http.Client{Timeout: timeout},
		store:     store,
		blockSize: syncCfg.DeltaBlockSize,
		minRatio:  syncCfg.DeltaMinRatio,
		interval:  interval,
		listeners: make(map[int64]func(bool)),
		stopCh:    make(chan struct{}),
	}
}

// Start probes connectivity once immediately, then keeps watching in the
// background.
func (t *HTTPTransport) Start() {
	t.setConnected(t.probe())

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.setConnected(t.probe())
			case <-t.stopCh:
				return
			}
		}
	}()
}

func (t *HTTPTransport) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

func (t *HTTPTransport) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (t *HTTPTransport) setConnected(connected bool) {
	t.mu.Lock()
	changed := t.connected != connected
	t.connected = connected
	var fns []func(bool)
	if changed {
		fns = make([]func(bool), 0, len(t.listeners))
		for _, fn := range t.listeners {
			fns = append(fns, fn)
		}
	}
	t.mu.Unlock()

	if changed {
		logger.Log.Info("Network status changed", zap.Bool("connected", connected))
		for _, fn := range fns {
			fn(connected)
		}
	}
}

func (t *HTTPTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *HTTPTransport) OnConnectionChange(fn func(bool)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.listeners[id] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}

type batchRequest struct {
	Operations []*queue.Operation `json:"operations"`
}

// ProcessBatch posts one batch of operations and decodes the remote's
// partial result.
func (t *HTTPTransport) ProcessBatch(ctx context.Context, ops []*queue.Operation) (*sync.BatchResult, error) {
	var reply sync.BatchResult
	err := t.doJSON(ctx, http.MethodPost, "/v1/sync/batch", batchRequest{Operations: ops}, &reply)
	if err != nil {
		return nil, fmt.Errorf("batch upload failed: %w", err)
	}
	return &reply, nil
}

type remoteChange struct {
	Entity  sync.Entity     `json:"entity"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type changesReply struct {
	Cursor  string         `json:"cursor"`
	Changes []remoteChange `json:"changes"`
}

// PullRemoteChanges fetches everything past the persisted cursor and writes
// it through the storage collaborator.
func (t *HTTPTransport) PullRemoteChanges(ctx context.Context) error {
	cursor := ""
	if data, err := t.store.Get(ctx, cursorKey); err == nil {
		cursor = string(data)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to load sync cursor: %w", err)
	}

	var reply changesReply
	path := "/v1/sync/changes"
	if cursor != "" {
		path += "?since=" + cursor
	}
	if err := t.doJSON(ctx, http.MethodGet, path, nil, &reply); err != nil {
		return fmt.Errorf("change pull failed: %w", err)
	}

	values := make(map[string][]byte, len(reply.Changes))
	for _, change := range reply.Changes {
		if err := change.Entity.Validate(); err != nil {
			logger.Log.Warn("Skipping invalid remote entity", zap.Error(err))
			continue
		}
		for _, w := range change.Entity.Warnings() {
			logger.Log.Warn("Remote entity warning", zap.String("warning", w))
		}

		key := entityPrefix + change.Entity.ID
		if change.Entity.Deleted {
			if err := t.store.Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to apply remote delete of %s: %w", change.Entity.ID, err)
			}
			continue
		}
		data, err := json.Marshal(change)
		if err != nil {
			return fmt.Errorf("failed to encode remote change %s: %w", change.Entity.ID, err)
		}
		values[key] = data
	}
	if len(values) > 0 {
		if err := t.store.SetBatch(ctx, values); err != nil {
			return fmt.Errorf("failed to apply remote changes: %w", err)
		}
	}

	if reply.Cursor != "" {
		if err := t.store.Set(ctx, cursorKey, []byte(reply.Cursor)); err != nil {
			return fmt.Errorf("failed to persist sync cursor: %w", err)
		}
	}

	logger.Log.Info("Pulled remote changes",
		zap.Int("changes", len(reply.Changes)),
		zap.String("cursor", reply.Cursor),
	)
	return nil
}

// UploadBlob re-uploads a binary attachment. When a previous version of the
// blob is known locally and the delta is worth it, only the edit script is
// shipped; otherwise the full blob goes up.
func (t *HTTPTransport) UploadBlob(ctx context.Context, key string, data []byte) error {
	prev, err := t.store.Get(ctx, blobPrefix+key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to load previous blob %s: %w", key, err)
	}

	sent := "full"
	if prev != nil {
		diff := delta.CreateDiff(prev, data, t.blockSize)
		if diff.Ratio() >= t.minRatio {
			if err := t.doJSON(ctx, http.MethodPatch, "/v1/blobs/"+key, diff, nil); err != nil {
				return fmt.Errorf("delta upload of %s failed: %w", key, err)
			}
			sent = "delta"
		}
	}
	if sent == "full" {
		if err := t.putBytes(ctx, "/v1/blobs/"+key, data); err != nil {
			return fmt.Errorf("full upload of %s failed: %w", key, err)
		}
	}

	if err := t.store.Set(ctx, blobPrefix+key, data); err != nil {
		return fmt.Errorf("failed to remember blob %s: %w", key, err)
	}

	logger.Log.Info("Uploaded blob",
		zap.String("key", key),
		zap.String("mode", sent),
		zap.Int("size", len(data)),
	)
	return nil
}

func (t *HTTPTransport) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("remote returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (t *HTTPTransport) putBytes(ctx context.Context, path string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("remote returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
