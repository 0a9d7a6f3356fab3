package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntity_Clone(t *testing.T) {
	original := &Entity{
		ID:      "trip-1",
		Type:    EntityTypeTrip,
		OwnerID: "owner1",
		Data:    json.RawMessage(`{"name":"Alps"}`),
		Version: 3,
	}

	clone := original.Clone()
	require.Equal(t, original, clone)

	clone.Data[2] = 'X'
	clone.Version = 4
	assert.JSONEq(t, `{"name":"Alps"}`, string(original.Data))
	assert.Equal(t, int64(3), original.Version)
}

func TestEntity_Snapshot(t *testing.T) {
	e := &Entity{
		UpdatedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		ID:        "trip-1",
		Type:      EntityTypeTrip,
		DeviceID:  "phone",
		Data:      json.RawMessage(`{"name":"Alps"}`),
		Version:   2,
	}

	var decoded Entity
	require.NoError(t, json.Unmarshal(e.Snapshot(), &decoded))
	assert.Equal(t, "phone", decoded.DeviceID)
	assert.Equal(t, int64(2), decoded.Version)
	assert.JSONEq(t, `{"name":"Alps"}`, string(decoded.Data))

	broken := &Entity{Data: json.RawMessage(`{not json`)}
	assert.Nil(t, broken.Snapshot())
}

func TestOperationKind_Valid(t *testing.T) {
	for _, k := range []OperationKind{OperationCreate, OperationUpdate, OperationDelete} {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, OperationKind("create").Valid())
	assert.False(t, OperationKind("").Valid())
}

func TestConflictStrategy_Valid(t *testing.T) {
	for _, s := range []ConflictStrategy{StrategyLastWriteWins, StrategyDevicePriority, StrategyManual} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, ConflictStrategy("FIRST_WRITE_WINS").Valid())
}

func TestOperationResult_Succeeded(t *testing.T) {
	assert.True(t, (&OperationResult{OperationID: "a"}).Succeeded())
	assert.False(t, (&OperationResult{OperationID: "a", Err: errors.New("boom")}).Succeeded())
}
