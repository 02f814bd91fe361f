package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/assessment"
	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
)

const (
	snapshotBufferSize    = 32
	broadcastQueueSize    = 256
	broadcastWriteTimeout = 2 * time.Second
)

// BroadcasterConfig wires the optional cross-node outputs of the broadcaster.
type BroadcasterConfig struct {
	Redis       *redis.Client
	NATS        *nats.Conn
	KeyPrefix   string
	NATSSubject string
	SnapshotTTL time.Duration
}

// ResultEvent announces a completed attempt to other nodes and telemetry consumers.
type ResultEvent struct {
	Source        string                `json:"source"`
	SessionID     string                `json:"session_id"`
	UserID        uint                  `json:"user_id"`
	QuestionSetID string                `json:"question_set_id"`
	Attempt       int                   `json:"attempt"`
	Result        assessment.ResultView `json:"result"`
	CompletedAt   time.Time             `json:"completed_at"`
}

type cachedSnapshot struct {
	UserID   uint                `json:"user_id"`
	Snapshot assessment.Snapshot `json:"snapshot"`
}

type outboundSnapshot struct {
	userID   uint
	snapshot assessment.Snapshot
}

// SessionBroadcaster fans session snapshots out to live streams, caches the latest one in
// Redis and publishes completed results to Redis and NATS.
type SessionBroadcaster struct {
	redis       *redis.Client
	nats        *nats.Conn
	keyPrefix   string
	subject     string
	snapshotTTL time.Duration
	queue       chan outboundSnapshot
	stopped     chan struct{}
	hub         *snapshotHub
	nodeID      string
	logger      zerolog.Logger
}

type snapshotHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.SnapshotResponse]struct{}
}

// NewSessionBroadcaster constructs a broadcaster. Redis and NATS are optional.
func NewSessionBroadcaster(cfg BroadcasterConfig, logger zerolog.Logger) *SessionBroadcaster {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "gema:assessment"
	}
	ttl := cfg.SnapshotTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	return &SessionBroadcaster{
		redis:       cfg.Redis,
		nats:        cfg.NATS,
		keyPrefix:   prefix,
		subject:     cfg.NATSSubject,
		snapshotTTL: ttl,
		queue:       make(chan outboundSnapshot, broadcastQueueSize),
		stopped:     make(chan struct{}),
		hub:         &snapshotHub{subscribers: make(map[string]map[chan dto.SnapshotResponse]struct{})},
		nodeID:      uuid.NewString(),
		logger:      logger.With().Str("component", "session_broadcaster").Logger(),
	}
}

// Start runs the background writer until ctx is cancelled. Snapshots still queued at
// that point are written before the writer stops.
func (b *SessionBroadcaster) Start(ctx context.Context) {
	if b.redis == nil && b.nats == nil {
		close(b.stopped)
		return
	}
	go b.run(ctx)
}

// Stopped is closed once the writer started by Start has drained and exited.
func (b *SessionBroadcaster) Stopped() <-chan struct{} {
	return b.stopped
}

// Publish delivers a snapshot to local subscribers and queues the cross-node writes. It
// never blocks the session that emitted it.
func (b *SessionBroadcaster) Publish(userID uint, snap assessment.Snapshot) {
	b.hub.broadcast(snap.SessionID, dto.NewSnapshotResponse(snap))

	if b.redis == nil && b.nats == nil {
		return
	}
	select {
	case b.queue <- outboundSnapshot{userID: userID, snapshot: snap}:
	default:
		observability.BroadcastDrops().Inc()
		b.logger.Warn().Str("session_id", snap.SessionID).Msg("broadcast queue full, snapshot dropped")
	}
}

// Subscribe opens a live stream of snapshots for sessionID.
func (b *SessionBroadcaster) Subscribe(sessionID string) (<-chan dto.SnapshotResponse, func()) {
	ch := make(chan dto.SnapshotResponse, snapshotBufferSize)
	b.hub.subscribe(sessionID, ch)
	observability.StreamSubscribers().Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.hub.unsubscribe(sessionID, ch)
			observability.StreamSubscribers().Dec()
		})
	}
}

// CloseSession ends every stream of sessionID.
func (b *SessionBroadcaster) CloseSession(sessionID string) {
	b.hub.closeAll(sessionID)
}

// Cached returns the last snapshot written to Redis for sessionID.
func (b *SessionBroadcaster) Cached(ctx context.Context, sessionID string) (assessment.Snapshot, uint, bool, error) {
	if b.redis == nil {
		return assessment.Snapshot{}, 0, false, nil
	}

	raw, err := b.redis.Get(ctx, b.snapshotKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return assessment.Snapshot{}, 0, false, nil
		}
		return assessment.Snapshot{}, 0, false, err
	}

	var cached cachedSnapshot
	if err := json.Unmarshal(raw, &cached); err != nil {
		return assessment.Snapshot{}, 0, false, fmt.Errorf("decode cached snapshot: %w", err)
	}
	return cached.Snapshot, cached.UserID, true, nil
}

// ResultsChannel is the Redis channel completed results are published on.
func (b *SessionBroadcaster) ResultsChannel() string {
	return b.keyPrefix + ":results"
}

func (b *SessionBroadcaster) snapshotKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:snapshot", b.keyPrefix, sessionID)
}

func (b *SessionBroadcaster) run(ctx context.Context) {
	defer close(b.stopped)

	// writes are bounded by broadcastWriteTimeout, not by ctx
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case msg := <-b.queue:
					b.deliver(writeCtx, msg)
				default:
					return
				}
			}
		case msg := <-b.queue:
			b.deliver(writeCtx, msg)
		}
	}
}

func (b *SessionBroadcaster) deliver(ctx context.Context, msg outboundSnapshot) {
	writeCtx, cancel := context.WithTimeout(ctx, broadcastWriteTimeout)
	defer cancel()

	snap := msg.snapshot
	if b.redis != nil {
		payload, err := json.Marshal(cachedSnapshot{UserID: msg.userID, Snapshot: snap})
		if err == nil {
			err = b.redis.Set(writeCtx, b.snapshotKey(snap.SessionID), payload, b.snapshotTTL).Err()
		}
		if err != nil {
			observability.StoreFailures().WithLabelValues("snapshot_cache").Inc()
			b.logger.Warn().Err(err).Str("session_id", snap.SessionID).Msg("failed to cache snapshot")
		}
	}

	if snap.Phase != assessment.PhaseResults || snap.Result == nil {
		return
	}

	event := ResultEvent{
		Source:        b.nodeID,
		SessionID:     snap.SessionID,
		UserID:        msg.userID,
		QuestionSetID: snap.QuestionSetID,
		Attempt:       snap.Attempt,
		Result:        *snap.Result,
		CompletedAt:   snap.At,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to encode result event")
		return
	}

	if b.redis != nil {
		if err := b.redis.Publish(writeCtx, b.ResultsChannel(), payload).Err(); err != nil {
			observability.StoreFailures().WithLabelValues("result_publish").Inc()
			b.logger.Warn().Err(err).Msg("failed to publish result to redis")
		}
	}
	if b.nats != nil && b.subject != "" {
		if err := b.nats.Publish(b.subject, payload); err != nil {
			observability.StoreFailures().WithLabelValues("result_publish").Inc()
			b.logger.Warn().Err(err).Msg("failed to publish result to nats")
		}
	}
}

func (h *snapshotHub) subscribe(sessionID string, ch chan dto.SnapshotResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.subscribers[sessionID]; !exists {
		h.subscribers[sessionID] = make(map[chan dto.SnapshotResponse]struct{})
	}
	h.subscribers[sessionID][ch] = struct{}{}
}

func (h *snapshotHub) unsubscribe(sessionID string, ch chan dto.SnapshotResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers, ok := h.subscribers[sessionID]
	if !ok {
		return
	}
	if _, present := subscribers[ch]; !present {
		return
	}
	delete(subscribers, ch)
	close(ch)
	if len(subscribers) == 0 {
		delete(h.subscribers, sessionID)
	}
}

func (h *snapshotHub) closeAll(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subscribers[sessionID] {
		close(ch)
	}
	delete(h.subscribers, sessionID)
}

func (h *snapshotHub) broadcast(sessionID string, snap dto.SnapshotResponse) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers[sessionID] {
		select {
		case ch <- snap:
		default:
			observability.BroadcastDrops().Inc()
		}
	}
}
