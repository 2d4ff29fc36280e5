// Package client calls the functions of a remote interpreter. Calls issued
// within a short window are sent together in one request.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	log "github.com/sirupsen/logrus"

	"github.com/appbaseio/upgrade-assistant/model/registry"
	"github.com/appbaseio/upgrade-assistant/util"
)

const (
	logTag = "[client]"

	fnsPath = "/api/interpreter/fns"

	// DefaultWindow is how long a batch accumulates calls before it is sent.
	DefaultWindow = 10 * time.Millisecond
)

// Request is one function call of a batch.
type Request struct {
	ID           int64          `json:"id"`
	FunctionName string         `json:"functionName"`
	Args         registry.Args  `json:"args"`
	Context      registry.Value `json:"context"`
}

// Response is the raw JSON result of one call of a batch.
type Response struct {
	ID     int64
	Result []byte
}

// Transport sends a batch of calls in a single round trip.
type Transport interface {
	Send(ctx context.Context, requests []Request) ([]Response, error)
}

// RemoteError is a call that failed on the server.
type RemoteError struct {
	StatusCode int    `json:"statusCode"`
	Err        string `json:"err"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Err, e.Message)
}

// Future holds the eventual result of a call.
type Future struct {
	done  chan struct{}
	value registry.Value
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) settle(v registry.Value, err error) {
	f.value, f.err = v, err
	close(f.done)
}

// Wait blocks until the call completes or ctx is done.
func (f *Future) Wait(ctx context.Context) (registry.Value, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pending struct {
	future  *Future
	request Request
}

// Batcher coalesces calls into batches. Identical calls pending in the same
// batch share one Future.
type Batcher struct {
	transport Transport
	serialize func(registry.Value) (registry.Value, error)
	window    time.Duration

	mu     sync.Mutex
	nextID int64
	batch  map[int64]*pending
	timer  *time.Timer
}

// NewBatcher returns a batcher sending through transport. Call inputs are
// passed through serialize before they are sent. A zero window uses
// DefaultWindow.
func NewBatcher(transport Transport, serialize func(registry.Value) (registry.Value, error), window time.Duration) *Batcher {
	if window <= 0 {
		window = DefaultWindow
	}
	if serialize == nil {
		serialize = func(v registry.Value) (registry.Value, error) { return v, nil }
	}
	return &Batcher{transport: transport, serialize: serialize, window: window}
}

// Call schedules a call of the remote function with input as its context.
func (b *Batcher) Call(functionName string, input registry.Value, args registry.Args) *Future {
	serialized, err := b.serialize(input)
	if err != nil {
		f := newFuture()
		f.settle(nil, fmt.Errorf("unable to serialize context of %s: %v", functionName, err))
		return f
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.batch {
		if p.request.FunctionName == functionName &&
			reflect.DeepEqual(p.request.Args, args) &&
			reflect.DeepEqual(p.request.Context, serialized) {
			return p.future
		}
	}

	b.nextID++
	p := &pending{
		future:  newFuture(),
		request: Request{ID: b.nextID, FunctionName: functionName, Args: args, Context: serialized},
	}
	if b.batch == nil {
		b.batch = make(map[int64]*pending)
	}
	b.batch[p.request.ID] = p
	if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.flush)
	}
	return p.future
}

// flush sends the pending batch. A new batch may start accumulating as soon
// as the pending one is taken.
func (b *Batcher) flush() {
	b.mu.Lock()
	batch := b.batch
	b.batch, b.timer = nil, nil
	b.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	requests := make([]Request, 0, len(batch))
	for _, p := range batch {
		requests = append(requests, p.request)
	}
	sort.Slice(requests, func(i, j int) bool { return requests[i].ID < requests[j].ID })

	responses, err := b.transport.Send(context.Background(), requests)
	if err != nil {
		log.Errorln(logTag, ": batch of", len(requests), "calls failed:", err)
		for _, p := range batch {
			p.future.settle(nil, err)
		}
		return
	}

	for _, resp := range responses {
		p, ok := batch[resp.ID]
		if !ok {
			log.Warnln(logTag, ": received a result for unknown call", resp.ID)
			continue
		}
		delete(batch, resp.ID)
		p.future.settle(decodeResult(resp.Result))
	}
	for id, p := range batch {
		p.future.settle(nil, fmt.Errorf("no result for call %d to %s", id, p.request.FunctionName))
	}
}

// decodeResult returns a *RemoteError for results carrying both a status
// code and an error name.
func decodeResult(raw []byte) (registry.Value, error) {
	_, _, _, codeErr := jsonparser.Get(raw, "statusCode")
	_, _, _, errErr := jsonparser.Get(raw, "err")
	if codeErr == nil && errErr == nil {
		remote := &RemoteError{}
		if err := json.Unmarshal(raw, remote); err != nil {
			return nil, fmt.Errorf("invalid error result: %v", err)
		}
		return nil, remote
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("invalid result: %v", err)
	}
	return v, nil
}

// HTTPTransport posts batches to the function endpoint of a server.
type HTTPTransport struct {
	URL    string
	Client *http.Client
}

// NewHTTPTransport returns a transport for the server at baseURL.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		URL:    strings.TrimRight(baseURL, "/") + fnsPath,
		Client: util.HTTPClient(),
	}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, requests []Request) ([]Response, error) {
	body, err := json.Marshal(struct {
		Functions []Request `json:"functions"`
	}{requests})
	if err != nil {
		return nil, fmt.Errorf("unable to marshal batch: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("can't read batch response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch request failed with status %d: %s", resp.StatusCode, raw)
	}
	return parseResults(raw)
}

func parseResults(raw []byte) ([]Response, error) {
	var (
		responses []Response
		parseErr  error
	)
	_, err := jsonparser.ArrayEach(raw, func(value []byte, _ jsonparser.ValueType, _ int, _ error) {
		if parseErr != nil {
			return
		}
		id, err := jsonparser.GetInt(value, "id")
		if err != nil {
			parseErr = fmt.Errorf("result without id: %v", err)
			return
		}
		result, dataType, _, err := jsonparser.Get(value, "result")
		if err != nil {
			parseErr = fmt.Errorf("call %d has no result: %v", id, err)
			return
		}
		// string values come back without their quotes
		if dataType == jsonparser.String {
			quoted := make([]byte, 0, len(result)+2)
			quoted = append(quoted, '"')
			quoted = append(quoted, result...)
			result = append(quoted, '"')
		}
		responses = append(responses, Response{ID: id, Result: result})
	}, "results")
	if err != nil {
		return nil, fmt.Errorf("invalid batch response: %v", err)
	}
	return responses, parseErr
}
