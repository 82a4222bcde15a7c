// Package session implements the upstream session: authenticated
// HTTPS request/reply plus a persistent duplex WebSocket channel to the
// venue, bearer-token lifecycle, and subscription demux.
package session

import (
	"crypto/tls"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"deribit-gateway/internal/latency"
	"deribit-gateway/internal/logger"
	"deribit-gateway/internal/model"
)

const (
	testAPIURL = "https://test.deribit.com"
	testWSURL  = "wss://test.deribit.com/ws/api/v2"
	prodAPIURL = "https://www.deribit.com"
	prodWSURL  = "wss://www.deribit.com/ws/api/v2"
)

// PushCallback is invoked by the dispatch worker for every subscription
// notification on a channel. Callbacks must be cheap to invoke and must
// never block on the upstream mutex — they run off the dispatch
// worker's goroutine, not the caller's.
type PushCallback func(channel string, data *model.Dynamic)

// Session exclusively owns the credentials and the upstream socket;
// it never shares memory with the order/book store.
type Session struct {
	apiURL string
	wsURL  string

	httpClient *http.Client
	limiter    *rate.Limiter

	authMu sync.Mutex
	creds  model.Credentials

	wsMu      sync.Mutex
	conn      *websocket.Conn
	connected bool
	closing   atomic.Bool

	callbacksMu sync.Mutex
	callbacks   map[string]PushCallback

	queue   chan pushItem
	wg      sync.WaitGroup
	started sync.Once

	nextID atomic.Int64

	lat *latency.Registry
	log *logger.Entry
}

type pushItem struct {
	channel string
	data    *model.Dynamic
}

// New builds a Session for the given credentials and venue environment.
// apiKey/apiSecret may be empty for a session that only ever issues
// public requests.
func New(apiKey, apiSecret string, testMode bool, rps float64, burst int, lat *latency.Registry) *Session {
	apiURL, wsURL := prodAPIURL, prodWSURL
	if testMode {
		apiURL, wsURL = testAPIURL, testWSURL
	}
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 10
	}
	return &Session{
		apiURL:    apiURL,
		wsURL:     wsURL,
		creds:     model.Credentials{APIKey: apiKey, APISecret: apiSecret},
		callbacks: make(map[string]PushCallback),
		queue:     make(chan pushItem, 1024),
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		lat:       lat,
		log:       logger.Global().WithComponent("session"),
	}
}

// Initialize prepares the HTTPS transport/TLS context and starts the
// single background dispatch worker that drains the subscription
// queue. Safe to call once; later calls are no-ops.
func (s *Session) Initialize() error {
	s.started.Do(func() {
		s.httpClient = &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConns:        10,
				IdleConnTimeout:     60 * time.Second,
			},
		}
		s.wg.Add(1)
		go s.dispatchLoop()
	})
	return nil
}

// IsAuthenticated reports the current authentication state.
func (s *Session) IsAuthenticated() bool {
	s.authMu.Lock()
	defer s.authMu.Unlock()
	return s.creds.Authenticated
}

func (s *Session) dispatchLoop() {
	defer s.wg.Done()
	for item := range s.queue {
		s.callbacksMu.Lock()
		cb, ok := s.callbacks[item.channel]
		s.callbacksMu.Unlock()
		if !ok {
			continue
		}
		cb(item.channel, item.data)
	}
}

// Close stops the dispatch worker and waits for it and the duplex
// channel's I/O worker to exit; it does not close the socket itself.
// Intended for final teardown, after DisconnectWebsocket.
func (s *Session) Close() {
	close(s.queue)
	s.wg.Wait()
}
