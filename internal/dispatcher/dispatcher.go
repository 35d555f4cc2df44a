// Package dispatcher implements the RPC Dispatcher: it reads frames from an
// internal/rpc.Codec, resolves each request's method to a handler, and
// writes back a response, while forwarding chat.stream and server.ready
// notifications on the same serialized writer.
//
// Grounded on original_source/openagent/server/handlers.py's Handlers class
// and its create_handlers() method table. Like the original, this dispatcher
// tracks a single "current session" set by session.create/session.load
// rather than accepting a session id on every call — one stdio connection
// serves one client at a time, exactly as the original's _current_session
// field models it.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/agentcore/agentcore/internal/index"
	"github.com/agentcore/agentcore/internal/observability"
	"github.com/agentcore/agentcore/internal/rpc"
	"github.com/agentcore/agentcore/internal/rpcerr"
	"github.com/agentcore/agentcore/internal/store"
	"github.com/agentcore/agentcore/internal/turn"
)

// handlerFunc serves one RPC method. params is the raw JSON params object
// (possibly nil); the returned value is marshalled into the response result.
type handlerFunc func(ctx context.Context, d *Dispatcher, params json.RawMessage) (any, error)

// Dispatcher owns the live connection state: the current session, and the
// dependencies every handler needs.
type Dispatcher struct {
	codec    *rpc.Codec
	db       *store.DB
	engine   *turn.Engine
	router   *index.Router
	embedder index.Embedder
	version  string
	log      *slog.Logger
	tracer   *observability.Tracer
	metrics  *observability.Metrics

	mu           sync.Mutex
	currentID    string
	codebasePath string
}

// New builds a Dispatcher. embedder may be nil if no retrieval embedder is
// configured; rag.* handlers then degrade to "not initialized" responses,
// matching the original's behavior when rag_store is nil.
func New(codec *rpc.Codec, db *store.DB, engine *turn.Engine, router *index.Router, embedder index.Embedder, version string, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	tracer, _ := observability.NewTracer(observability.TraceConfig{ServiceName: "agentcore"})
	return &Dispatcher{codec: codec, db: db, engine: engine, router: router, embedder: embedder, version: version, log: log, tracer: tracer}
}

// WithObservability attaches a configured Tracer and Metrics to d, replacing
// the no-op tracer New installs by default. Optional: cmd/agentcore calls
// this after constructing the shared observability stack so every RPC
// method gets a rpc.<method> span (spec §4.8 names turn.send's own span
// tree; this extends the same per-request tracing to the dispatcher's other
// methods) and, when Metrics is set, an error count per failed call.
func (d *Dispatcher) WithObservability(tracer *observability.Tracer, metrics *observability.Metrics) *Dispatcher {
	if tracer != nil {
		d.tracer = tracer
	}
	d.metrics = metrics
	return d
}

var methods = map[string]handlerFunc{
	"chat.send":         handleChatSend,
	"chat.cancel":       handleChatCancel,
	"session.create":    handleSessionCreate,
	"session.load":      handleSessionLoad,
	"session.list":      handleSessionList,
	"session.delete":    handleSessionDelete,
	"tokens.get":        handleTokensGet,
	"tokens.set_budget": handleTokensSetBudget,
	"model.get":         handleModelGet,
	"model.set":         handleModelSet,
	"model.list":        handleModelList,
	"rag.search":        handleRAGSearch,
	"rag.ingest":        handleRAGIngest,
	"rag.status":        handleRAGStatus,
	"rag.embeddings":    handleRAGEmbeddings,
	"codebase.init":     handleCodebaseInit,
}

// Run reads frames until the codec reports io.EOF or ctx is cancelled,
// dispatching each request in its own goroutine so a concurrent chat.cancel
// can still be read and serviced while chat.send is in flight (spec §5's
// scheduling model).
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.emitReady(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		req, notif, err := d.codec.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var rpcErr *rpc.Error
			if errors.As(err, &rpcErr) {
				_ = d.codec.WriteResponse(rpc.NewErrorResponse(nil, rpcErr))
				continue
			}
			return err
		}

		if notif != nil {
			wg.Add(1)
			go func(n *rpc.Notification) {
				defer wg.Done()
				d.handle(ctx, n.Method, n.Params)
			}(notif)
			continue
		}

		wg.Add(1)
		go func(r *rpc.Request) {
			defer wg.Done()
			d.dispatch(ctx, r)
		}(req)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, req *rpc.Request) {
	result, err := d.handle(ctx, req.Method, req.Params)
	if err != nil {
		rpcErr := rpcerr.Classify(err)
		_ = d.codec.WriteResponse(rpc.NewErrorResponse(req.ID, rpcErr))
		return
	}

	resp, err := rpc.NewResponse(req.ID, result)
	if err != nil {
		_ = d.codec.WriteResponse(rpc.NewErrorResponse(req.ID, &rpc.Error{Code: rpc.CodeInternalError, Message: err.Error()}))
		return
	}
	_ = d.codec.WriteResponse(resp)
}

func (d *Dispatcher) handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	ctx, span := d.tracer.TraceRPCMethod(ctx, method)
	defer span.End()

	fn, ok := methods[method]
	if !ok {
		err := &rpc.Error{Code: rpc.CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", method)}
		d.tracer.RecordError(span, err)
		return nil, err
	}
	result, err := fn(ctx, d, params)
	if err != nil {
		d.log.Error("handler failed", "method", method, "error", err)
		d.tracer.RecordError(span, err)
		if d.metrics != nil {
			d.metrics.RecordError("dispatcher", method)
		}
	}
	return result, err
}

func (d *Dispatcher) emitReady(ctx context.Context) error {
	notif, err := rpc.NewNotification("server.ready", map[string]any{"version": d.version})
	if err != nil {
		return err
	}
	return d.codec.WriteNotification(notif)
}

// Notify implements turn.Notifier by forwarding the notification on the
// dispatcher's single serialized writer, regardless of sessionID: this
// dispatcher only ever drives turns for one connection's current session.
func (d *Dispatcher) Notify(ctx context.Context, sessionID, method string, params any) error {
	notif, err := rpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	return d.codec.WriteNotification(notif)
}

func (d *Dispatcher) setCurrentSession(id, codebasePath string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.currentID = id
	d.codebasePath = codebasePath
}

func (d *Dispatcher) currentSession() (id, codebasePath string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentID, d.codebasePath
}

// switchRAGCollection routes the Index Router to absPath's collection,
// idempotent when it already matches the dispatcher's codebasePath,
// mirroring Handlers._switch_rag_collection.
func (d *Dispatcher) switchRAGCollection(absPath string) {
	if absPath == "" || d.router == nil {
		return
	}
	d.mu.Lock()
	if d.codebasePath == absPath {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	if _, err := d.router.SwitchTo(absPath); err != nil {
		d.log.Warn("could not switch rag collection", "path", absPath, "error", err)
		return
	}
	d.mu.Lock()
	d.codebasePath = absPath
	d.mu.Unlock()
}

func invalidParams(msg string) error {
	return &rpc.Error{Code: rpc.CodeInvalidParams, Message: msg}
}

func decodeParams(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}
