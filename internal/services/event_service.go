package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/lockpool/escrow/internal/models"
)

// DefaultEventQueue is the Redis list external watchers consume.
const DefaultEventQueue = "escrow_events"

// EventService is the escrow notification sink: every event is appended to
// the escrow_events audit table and pushed onto a Redis queue for off-chain
// watchers. The table is the source of truth; the queue is best-effort and a
// push failure only logs.
type EventService struct {
	db    *sql.DB
	redis *redis.Client
	queue string
}

func NewEventService(db *sql.DB, redisClient *redis.Client, queue string) *EventService {
	if queue == "" {
		queue = DefaultEventQueue
	}
	return &EventService{
		db:    db,
		redis: redisClient,
		queue: queue,
	}
}

func (s *EventService) Emit(ctx context.Context, event models.EscrowEvent) error {
	if err := s.append(ctx, event); err != nil {
		return err
	}

	// Redis is optional; watchers without it poll the audit table.
	if s.redis != nil {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if err := s.redis.RPush(ctx, s.queue, data).Err(); err != nil {
			log.Printf("[EVENTS] queue push failed for %s: %v", event.Hashlock, err)
		}
	}

	return nil
}

func (s *EventService) append(ctx context.Context, event models.EscrowEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escrow_events
			(id, event_type, hashlock, sender, receiver, token_contract,
			 amount, timelock, preimage, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.EventType, event.Hashlock, event.Sender,
		event.Receiver, event.TokenContract, event.Amount, event.Timelock,
		event.Preimage, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("append escrow event: %w", err)
	}
	return nil
}

// Recent returns the latest events from the audit table, newest first.
func (s *EventService) Recent(ctx context.Context, limit int) ([]models.EscrowEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, hashlock, sender, receiver, token_contract,
		       amount, timelock, preimage, created_at
		FROM escrow_events
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch escrow events: %w", err)
	}
	defer rows.Close()

	events := []models.EscrowEvent{}
	for rows.Next() {
		var event models.EscrowEvent
		if err := rows.Scan(&event.ID, &event.EventType, &event.Hashlock,
			&event.Sender, &event.Receiver, &event.TokenContract,
			&event.Amount, &event.Timelock, &event.Preimage,
			&event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// MemoryEventSink records events in order, for isolated-ledger tests.
type MemoryEventSink struct {
	Events []models.EscrowEvent
}

func NewMemoryEventSink() *MemoryEventSink {
	return &MemoryEventSink{}
}

func (s *MemoryEventSink) Emit(_ context.Context, event models.EscrowEvent) error {
	s.Events = append(s.Events, event)
	return nil
}
