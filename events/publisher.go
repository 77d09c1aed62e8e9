// Package events broadcasts named events to websocket subscribers.
//
// Delivery is best effort: each connected subscriber sees every event at
// most once and in publish order. Nothing is replayed to late subscribers,
// and a subscriber that falls behind is disconnected.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

// Path is where the publisher is mounted.
const Path = "/events"

// Event is one published notification.
type Event struct {
	Seq     uint64    `json:"seq"`
	Name    string    `json:"name"`
	Payload any       `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

type Settings struct {
	QueueSize    int
	WriteTimeout time.Duration
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		QueueSize:    64,
		WriteTimeout: 5 * time.Second,
		PingInterval: 15 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

// Publisher fans events out to every connected subscriber. It is an
// http.Handler that upgrades requests to websocket subscriptions.
type Publisher struct {
	settings Settings
	upgrader websocket.Upgrader

	mu     sync.Mutex
	seq    uint64
	subs   map[*subscription]struct{}
	closed bool

	published   prometheus.Counter
	dropped     prometheus.Counter
	subscribers prometheus.Gauge
}

type subscription struct {
	conn  *websocket.Conn
	addr  string
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// withDefaults fills every non-positive field from DefaultSettings.
func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.QueueSize <= 0 {
		s.QueueSize = def.QueueSize
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = def.WriteTimeout
	}
	if s.PingInterval <= 0 {
		s.PingInterval = def.PingInterval
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = def.ReadTimeout
	}
	return s
}

// NewPublisher returns a publisher using settings. Zero fields take their
// default.
func NewPublisher(settings Settings) *Publisher {
	settings = settings.withDefaults()
	return &Publisher{
		settings: settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: make(map[*subscription]struct{}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmoscope",
			Name:      "events_published_total",
			Help:      "Events published to subscribers.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cosmoscope",
			Name:      "event_subscribers_dropped_total",
			Help:      "Subscribers disconnected for falling behind.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cosmoscope",
			Name:      "event_subscribers",
			Help:      "Connected event subscribers.",
		}),
	}
}

// Collectors returns the publisher's metrics for registration.
func (p *Publisher) Collectors() []prometheus.Collector {
	return []prometheus.Collector{p.published, p.dropped, p.subscribers}
}

// Publish assigns the next sequence number to the event and queues it for
// every connected subscriber.
func (p *Publisher) Publish(name string, payload any) Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	ev := Event{Seq: p.seq, Name: name, Payload: payload, Time: time.Now().UTC()}
	msg, err := json.Marshal(ev)
	if err != nil {
		glog.Errorf("events: cannot encode %s: %v", name, err)
		return ev
	}
	p.published.Inc()
	for sub := range p.subs {
		select {
		case sub.queue <- msg:
		default:
			glog.Infof("events: dropping slow subscriber %s", sub.addr)
			p.dropped.Inc()
			p.removeLocked(sub)
		}
	}
	glog.V(2).Infof("events: published %s #%d to %d subscribers", name, ev.Seq, len(p.subs))
	return ev
}

// Subscribers is the number of connected subscribers.
func (p *Publisher) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Close disconnects every subscriber and refuses new ones.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for sub := range p.subs {
		p.removeLocked(sub)
	}
}

func (p *Publisher) add(sub *subscription) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.subs[sub] = struct{}{}
	p.subscribers.Set(float64(len(p.subs)))
	return true
}

func (p *Publisher) remove(sub *subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(sub)
}

func (p *Publisher) removeLocked(sub *subscription) {
	if _, ok := p.subs[sub]; !ok {
		return
	}
	delete(p.subs, sub)
	sub.stop()
	p.subscribers.Set(float64(len(p.subs)))
}

// ServeHTTP upgrades the request and streams events until either side goes
// away.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("events: upgrade %s: %v", r.RemoteAddr, err)
		return
	}
	sub := &subscription{
		conn:  ws,
		addr:  r.RemoteAddr,
		queue: make(chan []byte, p.settings.QueueSize),
		done:  make(chan struct{}),
	}
	if !p.add(sub) {
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		ws.Close()
		return
	}
	glog.V(2).Infof("events: subscriber %s connected", sub.addr)

	go p.write(sub)

	// Subscribers never send; reading only notices when they leave and keeps
	// pong handling running.
	ws.SetReadDeadline(time.Now().Add(p.settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(p.settings.ReadTimeout))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	p.remove(sub)
	glog.V(2).Infof("events: subscriber %s disconnected", sub.addr)
}

func (p *Publisher) write(sub *subscription) {
	ws := sub.conn
	defer ws.Close()
	ping := time.NewTicker(p.settings.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-sub.done:
			ws.SetWriteDeadline(time.Now().Add(p.settings.WriteTimeout))
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-sub.queue:
			ws.SetWriteDeadline(time.Now().Add(p.settings.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				glog.Infof("events: write to %s: %v", sub.addr, err)
				p.remove(sub)
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.settings.WriteTimeout)); err != nil {
				p.remove(sub)
				return
			}
		}
	}
}
