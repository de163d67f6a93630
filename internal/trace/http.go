package trace

import "net/http"

// Middleware extracts or creates trace context for HTTP requests and echoes
// the trace ID on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := extractFromHeaders(r.Header)
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

// Inject writes ctx's trace IDs onto an outbound request. It is a no-op when
// ctx carries no trace.
func Inject(r *http.Request) {
	tc, ok := FromContext(r.Context())
	if !ok {
		return
	}
	r.Header.Set(TraceIDKey, tc.TraceID)
	r.Header.Set(SpanIDKey, tc.SpanID)
}

func extractFromHeaders(h http.Header) Context {
	tc := Context{
		TraceID:      h.Get(TraceIDKey),
		ParentSpanID: h.Get(SpanIDKey),
		SpanID:       generateSpanID(),
	}
	if tc.TraceID == "" {
		tc.TraceID = generateTraceID()
	}
	return tc
}
