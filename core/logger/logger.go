// Package logger carries a request-scoped logrus entry through contexts.
//
// Every request gets a request ID, authenticated requests also carry the
// identity of the caller. Both travel with the context and can be serialized
// to survive queue boundaries.
package logger

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type loggerContextData struct {
	RequestID string `json:"requestID"`
	Identity  string `json:"identity"`
}

type contextKeyRequestLoggerType struct{}

var contextKeyRequestLogger = &contextKeyRequestLoggerType{}

const (
	requestIDLoggerKey string = "requestID"
	identityLoggerKey  string = "identity"
)

// InitLogger configures the timestamp format and the log level for the
// entire process.
func InitLogger(logLevel logrus.Level) {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	customFormatter.FullTimestamp = true
	logrus.SetFormatter(customFormatter)
	logrus.SetLevel(logLevel)
}

// AddRequestID installs a middleware that equips every request context with
// a logger carrying a fresh request ID, unless the context has one already.
func AddRequestID(router *mux.Router) {
	reqID := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, _ := ContextWithLogger(r.Context())
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
	router.Use(reqID)
}

// Default returns the plain process logger, without a request ID.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// ContextWithLogger equips ctx with a logger carrying a new request ID. A
// context that already has a logger is returned unchanged, together with
// that logger.
func ContextWithLogger(ctx context.Context) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	} else if entry := loggerFromContext(ctx); entry != nil {
		return ctx, entry
	}
	id, _ := uuid.NewUUID()
	entry := logrus.WithField(requestIDLoggerKey, id.String())
	return context.WithValue(ctx, contextKeyRequestLogger, entry), entry
}

// ContextWithLoggerIdentity equips ctx with a logger carrying the given
// identity, typically the authenticated subject.
func ContextWithLoggerIdentity(ctx context.Context, identity string) (context.Context, *logrus.Entry) {
	ctx, entry := ContextWithLogger(ctx)
	if entry == nil {
		return ctx, entry
	}
	entry = entry.WithField(identityLoggerKey, identity)
	ctx = context.WithValue(ctx, contextKeyRequestLogger, entry)
	return ctx, entry
}

// FromContext returns the logger stored in ctx. Contexts without a logger,
// including a nil ctx, get the default logger.
func FromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return Default()
	}
	entry := loggerFromContext(ctx)
	if entry == nil {
		return Default()
	}
	return entry
}

// RequestIDFromContext returns the request ID stored in ctx, or an empty
// string.
func RequestIDFromContext(ctx context.Context) string {
	return loggerValues(ctx).RequestID
}

// SerializeLoggerContext returns the request ID and identity from ctx as
// JSON. Used to carry the request identity across queue boundaries.
func SerializeLoggerContext(ctx context.Context) []byte {
	ctxValues := loggerValues(ctx)
	if ctxValues.RequestID == "" {
		return []byte("{}")
	}
	res, err := json.Marshal(ctxValues)
	if err != nil {
		return []byte("{}")
	}
	return res
}

// ContextWithLoggerFromData is the counterpart of SerializeLoggerContext: it
// reconstructs the logger from serialized data. Invalid data yields a logger
// with a fresh request ID, a context that already has a logger is returned
// unchanged.
func ContextWithLoggerFromData(ctx context.Context, data []byte) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if entry := loggerFromContext(ctx); entry != nil {
		return ctx
	}

	var ctxValues loggerContextData
	err := json.Unmarshal(data, &ctxValues)
	if err != nil || len(ctxValues.RequestID) < 1 {
		ctx, _ = ContextWithLogger(ctx)
		return ctx
	}
	entry := logrus.WithField(requestIDLoggerKey, ctxValues.RequestID)
	if len(ctxValues.Identity) > 0 {
		entry = entry.WithField(identityLoggerKey, ctxValues.Identity)
	}
	return context.WithValue(ctx, contextKeyRequestLogger, entry)
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	entry, ok := ctx.Value(contextKeyRequestLogger).(*logrus.Entry)
	if !ok {
		return nil
	}
	return entry
}

func loggerValues(ctx context.Context) loggerContextData {
	var ctxValues loggerContextData
	entry := loggerFromContext(ctx)
	if entry == nil {
		return ctxValues
	}
	if s, ok := entry.Data[requestIDLoggerKey].(string); ok {
		ctxValues.RequestID = s
	}
	if s, ok := entry.Data[identityLoggerKey].(string); ok {
		ctxValues.Identity = s
	}
	return ctxValues
}
