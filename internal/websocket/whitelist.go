package websocket

// requestWhitelist holds the request names clients may send. Anything else
// is dropped before it reaches the listener. It is fixed once the bridge is
// built, so lookups need no lock.
type requestWhitelist struct {
	allowed map[string]struct{}
}

// newRequestWhitelist creates a whitelist with the given request names.
// Empty names are skipped.
func newRequestWhitelist(names ...string) *requestWhitelist {
	allowed := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name != "" {
			allowed[name] = struct{}{}
		}
	}
	return &requestWhitelist{allowed: allowed}
}

// IsAllowed reports whether clients may send name.
func (w *requestWhitelist) IsAllowed(name string) bool {
	_, ok := w.allowed[name]
	return ok
}

// Len returns the number of allowed request names.
func (w *requestWhitelist) Len() int {
	return len(w.allowed)
}
