package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/lockpool/escrow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() models.EscrowEvent {
	return models.EscrowEvent{
		ID:            "11111111-2222-3333-4444-555555555555",
		EventType:     models.EventTypeLockCreated,
		Hashlock:      "a1b2c3",
		Sender:        "alice",
		Receiver:      "bob",
		TokenContract: "GOLD",
		Amount:        400,
		Timelock:      time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
		CreatedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEventService_Emit(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	event := sampleEvent()

	t.Run("appends to audit table and queue", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewEventService(db, redisClient, "")

		mock.ExpectExec("INSERT INTO escrow_events").
			WithArgs(event.ID, event.EventType, event.Hashlock, event.Sender,
				event.Receiver, event.TokenContract, event.Amount, event.Timelock,
				event.Preimage, event.CreatedAt).
			WillReturnResult(sqlmock.NewResult(1, 1))

		payload, err := json.Marshal(event)
		require.NoError(t, err)
		redisMock.ExpectRPush(DefaultEventQueue, payload).SetVal(1)

		assert.NoError(t, service.Emit(ctx, event))
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("audit table failure surfaces", func(t *testing.T) {
		service := NewEventService(db, nil, "")

		mock.ExpectExec("INSERT INTO escrow_events").
			WillReturnError(errors.New("connection reset"))

		err := service.Emit(ctx, event)
		assert.Error(t, err)
	})

	t.Run("queue push failure is swallowed", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewEventService(db, redisClient, "custom_queue")

		mock.ExpectExec("INSERT INTO escrow_events").
			WillReturnResult(sqlmock.NewResult(1, 1))

		payload, err := json.Marshal(event)
		require.NoError(t, err)
		redisMock.ExpectRPush("custom_queue", payload).SetErr(errors.New("redis down"))

		assert.NoError(t, service.Emit(ctx, event))
	})

	t.Run("works without redis", func(t *testing.T) {
		service := NewEventService(db, nil, "")

		mock.ExpectExec("INSERT INTO escrow_events").
			WillReturnResult(sqlmock.NewResult(1, 1))

		assert.NoError(t, service.Emit(ctx, event))
	})
}

func TestEventService_Recent(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewEventService(db, nil, "")
	ctx := context.Background()

	columns := []string{"id", "event_type", "hashlock", "sender", "receiver",
		"token_contract", "amount", "timelock", "preimage", "created_at"}

	t.Run("returns recent events", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, event_type, hashlock").
			WithArgs(10).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("id-2", models.EventTypeLockWithdrawn, "a1b2c3", "", "bob", "GOLD", 400, time.Now(), "cafe01", time.Now()).
				AddRow("id-1", models.EventTypeLockCreated, "a1b2c3", "alice", "bob", "GOLD", 400, time.Now(), "", time.Now()))

		events, err := service.Recent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, models.EventTypeLockWithdrawn, events[0].EventType)
		assert.Equal(t, "cafe01", events[0].Preimage)
	})

	t.Run("defaults an out-of-range limit", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, event_type, hashlock").
			WithArgs(50).
			WillReturnRows(sqlmock.NewRows(columns))

		events, err := service.Recent(ctx, -1)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}
