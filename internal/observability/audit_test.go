package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/harun/passivebridge/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLogger_Record(t *testing.T) {
	var buf bytes.Buffer
	audit := NewAuditLogger(zerolog.New(&buf))

	ctx := tracing.WithTraceID(context.Background(), "trace-1")
	audit.Record(ctx, AuditEvent{
		Type:     "config",
		Actor:    "client-1",
		Action:   "configure",
		Status:   "success",
		Metadata: map[string]interface{}{"keys": 2},
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "config", entry["type"])
	assert.Equal(t, "client-1", entry["actor"])
	assert.Equal(t, "configure", entry["action"])
	assert.Equal(t, "trace-1", entry["trace_id"])
	assert.NotNil(t, entry["metadata"])
}

func TestSetAuditLogger(t *testing.T) {
	var buf bytes.Buffer
	previous := GetAuditLogger()
	SetAuditLogger(NewAuditLogger(zerolog.New(&buf)))
	defer SetAuditLogger(previous)

	RecordSecurityAudit(context.Background(), "auth.response", "client-2", "failure", nil)

	assert.Contains(t, buf.String(), `"action":"auth.response"`)
	assert.Contains(t, buf.String(), `"status":"failure"`)

	buf.Reset()
	RecordSessionAudit(context.Background(), "auth.invalidate", "user-1", "invalid")
	assert.Contains(t, buf.String(), `"type":"session"`)
	assert.Contains(t, buf.String(), `"actor":"user-1"`)
}
