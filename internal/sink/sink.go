// Package sink implements spec.md §4.9, the document-sink adapter: a thin
// typed client over the search backend's bulk HTTP wire protocol, with the
// retry/backoff and batching discipline the pipeline's other external
// calls share. The backend's index lifecycle and storage are out of
// scope (spec.md §1) — this package only owns PutBatch/DeleteBatch and
// the HTTP plumbing underneath them.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ddbj/dblink/internal/errs"
	"github.com/ddbj/dblink/internal/runlog"
)

// Config tunes the adapter's batching and retry policy, mirroring
// config.SinkConfig (spec.md §4.9).
type Config struct {
	BatchSize       int
	MaxRetries      int
	InitialBackoffS int
	MaxBackoffS     int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 5000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoffS <= 0 {
		c.InitialBackoffS = 1
	}
	if c.MaxBackoffS <= 0 {
		c.MaxBackoffS = 60
	}
	return c
}

// Adapter is the sink's HTTP client, grounded on the teacher's
// StreamProcessor client setup (internal/processor/http_stream.go
// NewStreamProcessor): a dedicated *http.Client with tuned transport
// instead of http.DefaultClient.
type Adapter struct {
	baseURL string
	client  *http.Client
	cfg     Config
	log     *runlog.Coordinator
}

// New builds an Adapter pointed at baseURL (the search backend's root
// endpoint). log is optional; when set, retries and permanent failures
// are reported through the run log.
func New(baseURL string, cfg Config, log *runlog.Coordinator) *Adapter {
	return &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 600 * time.Second, // spec.md §5 "600s external-call timeout"
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
		cfg: cfg.withDefaults(),
		log: log,
	}
}

// bulkAction is one line of the backend's newline-delimited bulk request
// body: an action line followed by its source document line.
type bulkAction struct {
	OpType string
	ID     string
	Doc    json.RawMessage
}

// PutBatch indexes docs into index, splitting into Config.BatchSize-sized
// requests and retrying each with exponential backoff on transient
// errors (spec.md §4.9). A batch that exhausts its retries is logged
// ERROR and skipped; PutBatch continues with the remaining batches and
// returns the first such error, if any, after all batches are attempted.
func (a *Adapter) PutBatch(ctx context.Context, index string, docs []json.RawMessage) error {
	var firstErr error
	for start := 0; start < len(docs); start += a.cfg.BatchSize {
		end := start + a.cfg.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		actions := make([]bulkAction, end-start)
		for i, d := range docs[start:end] {
			actions[i] = bulkAction{OpType: "index", Doc: d}
		}
		if err := a.sendWithRetry(ctx, index, actions); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// DeleteBatch issues delete actions for ids against index (spec.md §9
// "a dedicated es-delete-blacklisted CLI step ... issues deletes"). A
// 404 reported per-item by the backend is not_found, not a failure.
func (a *Adapter) DeleteBatch(ctx context.Context, index string, ids []string) error {
	var firstErr error
	for start := 0; start < len(ids); start += a.cfg.BatchSize {
		end := start + a.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		actions := make([]bulkAction, end-start)
		for i, id := range ids[start:end] {
			actions[i] = bulkAction{OpType: "delete", ID: id}
		}
		if err := a.sendWithRetry(ctx, index, actions); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// sendWithRetry is the retry/backoff loop, grounded on
// resumable_processor.processWithRetry: same exponential-backoff shape
// (delay doubles each attempt, capped), same isRetryableError-style
// classification, adapted from "retry a download" to "retry a batch PUT".
func (a *Adapter) sendWithRetry(ctx context.Context, index string, actions []bulkAction) error {
	delay := time.Duration(a.cfg.InitialBackoffS) * time.Second
	maxDelay := time.Duration(a.cfg.MaxBackoffS) * time.Second

	// batchID correlates this batch's retry attempts across the run log,
	// independent of the run_id every record already carries.
	batchID := uuid.New().String()

	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}

		err := a.send(ctx, index, actions)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			break
		}
		if a.log != nil {
			a.log.Warning(fmt.Sprintf("sink batch %s put failed, retrying", batchID), runlog.WithSource(index))
		}
	}

	if a.log != nil {
		a.log.Error(fmt.Sprintf("sink batch %s put exhausted retries, skipping batch", batchID), lastErr, runlog.WithSource(index))
	}
	return errs.E(errs.Op("sink.Adapter.send"), errs.KindNetwork, lastErr)
}

func (a *Adapter) send(ctx context.Context, index string, actions []bulkAction) error {
	var body bytes.Buffer
	for _, act := range actions {
		header := map[string]map[string]string{act.OpType: {"_index": index}}
		if act.ID != "" {
			header[act.OpType]["_id"] = act.ID
		}
		headerLine, err := json.Marshal(header)
		if err != nil {
			return errs.E(errs.Op("sink.Adapter.send"), errs.KindParse, err)
		}
		body.Write(headerLine)
		body.WriteByte('\n')
		if act.OpType == "index" {
			body.Write(act.Doc)
			body.WriteByte('\n')
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/_bulk", &body)
	if err != nil {
		return errs.E(errs.Op("sink.Adapter.send"), errs.KindNetwork, err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := a.client.Do(req)
	if err != nil {
		return &transientErr{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// A 404 on a delete-only batch is not_found, not a failure
		// (spec.md §4.9 "treats sink-reported 404-on-delete as not_found").
		allDeletes := true
		for _, act := range actions {
			if act.OpType != "delete" {
				allDeletes = false
				break
			}
		}
		if allDeletes {
			return nil
		}
	}

	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &transientErr{err: fmt.Errorf("sink returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sink returned status %d: %s", resp.StatusCode, string(data))
	}

	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

// transientErr marks an error as retryable (connection-level or 5xx).
type transientErr struct{ err error }

func (e *transientErr) Error() string { return e.err.Error() }
func (e *transientErr) Unwrap() error { return e.err }

// isRetryable classifies an error the way isRetryableError does in
// resumable_processor.go: connection resets, timeouts, and transient
// sink-side (5xx) failures are retried; anything else is permanent.
func isRetryable(err error) bool {
	if _, ok := err.(*transientErr); ok {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{"connection reset", "broken pipe", "timeout", "temporary failure", "eof", "connection refused"} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
