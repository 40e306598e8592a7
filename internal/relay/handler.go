package relay

import (
	"fmt"
	"net/http"
	"strings"
)

// SSEHandler streams feed messages as server-sent events. Clients may filter
// event kinds via ?kinds=decided,redirected.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		kinds := parseKinds(r.URL.Query().Get("kinds"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		for {
			select {
			case <-r.Context().Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if kinds != nil && !kinds[msg.Kind] {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Kind, msg.Payload)
				flusher.Flush()
			}
		}
	}
}

// parseKinds returns nil when no filter is given.
func parseKinds(q string) map[string]bool {
	if q == "" {
		return nil
	}
	kinds := make(map[string]bool)
	for _, k := range strings.Split(q, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[k] = true
		}
	}
	if len(kinds) == 0 {
		return nil
	}
	return kinds
}
