package middleware

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"finitefield.org/giftlens/internal/giftlens/observability"
	appsession "finitefield.org/giftlens/internal/giftlens/session"
)

const requestSessionKey contextKey = "giftlens.session"

// SessionStore abstracts the session manager for middleware integration.
type SessionStore interface {
	Load(*http.Request) (*appsession.Session, error)
	New() *appsession.Session
	Save(http.ResponseWriter, *appsession.Session) error
}

// SessionOption customises the Session middleware.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	onEnd func(id string)
}

// OnSessionEnd registers fn to run with the id of a session that expired.
// Server-side state owned by that session is released there.
func OnSessionEnd(fn func(id string)) SessionOption {
	return func(o *sessionOptions) {
		o.onEnd = fn
	}
}

// Session attaches the decoded session to the request context and writes it back
// to the client cookie just before the response header is sent.
func Session(store SessionStore, opts ...SessionOption) func(http.Handler) http.Handler {
	if store == nil {
		panic("session store is required")
	}
	var options sessionOptions
	for _, opt := range opts {
		opt(&options)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := observability.FromContext(r.Context())

			sess, err := store.Load(r)
			if errors.Is(err, appsession.ErrExpired) {
				logger.Info("session expired: resetting")
				if sess != nil && options.onEnd != nil {
					options.onEnd(sess.ID())
				}
				sess = store.New()
			} else if err != nil || sess == nil {
				if err != nil {
					logger.Warn("session load failed", zap.Error(err))
				}
				sess = store.New()
			}

			sw := &sessionWriter{ResponseWriter: w}
			sw.before = func() {
				if err := store.Save(w, sess); err != nil {
					logger.Error("session save failed", zap.Error(err))
				}
			}

			ctx := context.WithValue(r.Context(), requestSessionKey, sess)
			next.ServeHTTP(sw, r.WithContext(ctx))
			sw.commit()
		})
	}
}

// SessionFromContext retrieves the session attached to this request.
func SessionFromContext(ctx context.Context) (*appsession.Session, bool) {
	if ctx == nil {
		return nil, false
	}
	sess, ok := ctx.Value(requestSessionKey).(*appsession.Session)
	return sess, ok && sess != nil
}

// sessionWriter saves the session cookie once, before the first byte of the response.
type sessionWriter struct {
	http.ResponseWriter
	before func()
	once   sync.Once
}

func (w *sessionWriter) commit() {
	w.once.Do(w.before)
}

func (w *sessionWriter) WriteHeader(code int) {
	w.commit()
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.commit()
	return w.ResponseWriter.Write(b)
}

func (w *sessionWriter) Flush() {
	w.commit()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *sessionWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
