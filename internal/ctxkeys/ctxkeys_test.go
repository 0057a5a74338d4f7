package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	_, ok := RequestID(ctx)
	assert.False(t, ok)

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithSessionID(ctx, "sess-1")

	v, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", v)

	v, ok = TraceID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "trace-1", v)

	v, ok = SessionID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "sess-1", v)

	// 空字符串视为未设置
	_, ok = SessionID(WithSessionID(context.Background(), ""))
	assert.False(t, ok)
}
