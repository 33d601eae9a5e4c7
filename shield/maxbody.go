package shield

import "net/http"

// MaxJSONBody caps request bodies at maxBytes. Reads past the cap fail, so
// json.Decoder returns an error and the handler answers 400. A
// non-positive maxBytes disables the cap.
func MaxJSONBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
