package command

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entitlement-backend/internal/model"
	"entitlement-backend/internal/store"
	"entitlement-backend/internal/testutil"
)

func TestNormalizePayload(t *testing.T) {
	testCases := []struct {
		name     string
		kind     Kind
		payload  string
		expected string
		wantErr  bool
	}{
		{"Message with text", KindMessage, `{"text":"hello"}`, `{"text":"hello"}`, false},
		{"Message without text", KindMessage, `{}`, "", true},
		{"Message with blank text", KindMessage, `{"text":"  "}`, "", true},
		{"Message with numeric text", KindMessage, `{"text":5}`, "", true},
		{"Update config with object", KindUpdateConfig, `{"config":{"interval":30}}`, `{"config":{"interval":30}}`, false},
		{"Update config with string", KindUpdateConfig, `{"config":"x"}`, "", true},
		{"Update config missing", KindUpdateConfig, ``, "", true},
		{"Reboot without payload", KindReboot, ``, `{}`, false},
		{"Reboot with null", KindReboot, `null`, `{}`, false},
		{"Clear cache with extras", KindClearCache, `{"scope":"all"}`, `{"scope":"all"}`, false},
		{"Array payload", KindForcePublish, `[1,2]`, "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizePayload(tc.kind, json.RawMessage(tc.payload))
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tc.expected, string(got))
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseKind("self_destruct")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestQueue_EnqueueClaimHistory(t *testing.T) {
	gormDB := testutil.NewSQLite(t)
	q := NewQueue(store.NewGormStore(gormDB), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	q.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	c := testutil.SeedCustomer(t, gormDB, "Acme", testutil.Date(2027, 1, 1))
	testutil.SeedCode(t, gormDB, c.ID, "XN-ACME-01-AB12")

	_, err := q.Enqueue(ctx, "XN-NOPE-01-0000", "reboot", nil)
	assert.ErrorIs(t, err, ErrUnknownPickupCode)
	_, err = q.Enqueue(ctx, "XN-ACME-01-AB12", "format_disk", nil)
	assert.ErrorIs(t, err, ErrUnknownKind)

	first, err := q.Enqueue(ctx, "XN-ACME-01-AB12", "message", json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, "XN-ACME-01-AB12", "reboot", nil)
	require.NoError(t, err)
	third, err := q.Enqueue(ctx, "XN-ACME-01-AB12", "update_config", json.RawMessage(`{"config":{"interval":30}}`))
	require.NoError(t, err)

	claimed, err := q.ClaimPending(ctx, "XN-ACME-01-AB12", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, []int64{first, second, third}, []int64{claimed[0].ID, claimed[1].ID, claimed[2].ID})
	assert.Equal(t, "message", claimed[0].CommandType)
	assert.JSONEq(t, `{}`, string(claimed[1].Payload))

	claimed, err = q.ClaimPending(ctx, "XN-ACME-01-AB12", 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	history, err := q.History(ctx, "XN-ACME-01-AB12", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, third, history[0].ID)
	for _, h := range history {
		assert.Equal(t, model.CommandSent, h.Status)
	}

	history, err = q.History(ctx, "XN-ACME-01-AB12", 1)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

type recordingStore struct {
	Store
	limit int
}

func (r *recordingStore) CommandHistory(_ context.Context, _ string, limit int) ([]model.DeviceCommand, error) {
	r.limit = limit
	return nil, nil
}

func TestQueue_HistoryLimitBounds(t *testing.T) {
	rec := &recordingStore{}
	q := NewQueue(rec, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for in, want := range map[int]int{0: 20, -5: 20, 50: 50, 100: 100, 1000: 100} {
		_, err := q.History(context.Background(), "XN-ACME-01-AB12", in)
		require.NoError(t, err)
		assert.Equal(t, want, rec.limit, "limit=%d", in)
	}
}
