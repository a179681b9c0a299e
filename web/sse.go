package web

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"homectl-go/metrics"
	"homectl-go/sse"
)

// guiSummaryEvents streams one SSE event per raised topic path. The filter
// arrives as the `filter=` query parameter (GET) or a JSON body (POST);
// unparsable filters yield 400. Paths missing from the tree are skipped and
// the stream stays open until the client goes away.
func guiSummaryEvents(log *logrus.Entry, agg *sse.Aggregated) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var paths []sse.Path
		var err error
		switch r.Method {
		case http.MethodGet:
			paths, err = sse.ParseURLFilter(r.URL.Query().Get("filter"))
		case http.MethodPost:
			paths, err = sse.ParseBodyFilter(r.Body)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		sub := agg.Subscribe(paths)
		defer sub.Close()
		metrics.SSESubscribers.Inc()
		defer metrics.SSESubscribers.Dec()
		log.WithField("paths", len(sub.Items())).Debug("gui-summary stream open")

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ctx := r.Context()
		var mu sync.Mutex // serialises event writes across path streams
		var wg sync.WaitGroup
		for _, item := range sub.Items() {
			wg.Add(1)
			go func(item *sse.SubscriptionItem) {
				defer wg.Done()
				for {
					select {
					case <-ctx.Done():
						return
					case <-item.C():
						mu.Lock()
						if _, err := fmt.Fprintf(w, "data: %s\n\n", item.Data); err == nil {
							flusher.Flush()
						}
						mu.Unlock()
					}
				}
			}(item)
		}

		// The stream never terminates on its own.
		<-ctx.Done()
		wg.Wait()
	}
}
