package ctxkeys

import "context"

// TraceIDKey 链路 ID 在 context 中的键
type TraceIDKey struct{}

// WithTraceID 在 context 中写入链路 ID
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey{}, id)
}

// TraceID 读取链路 ID，不存在时返回空串
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(TraceIDKey{}).(string)
	return id
}
