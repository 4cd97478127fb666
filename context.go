package zresource

import "context"

type ctxKey int

const (
	sparkKey ctxKey = iota
	resourceKey
	methodKey
)

func withCall(ctx context.Context, r *Resource, method string, spark *Spark) context.Context {
	ctx = context.WithValue(ctx, resourceKey, r)
	ctx = context.WithValue(ctx, methodKey, method)
	return context.WithValue(ctx, sparkKey, spark)
}

// SparkFromContext 获取发起调用的 spark
func SparkFromContext(ctx context.Context) (*Spark, bool) {
	s, ok := ctx.Value(sparkKey).(*Spark)
	return s, ok
}

// ResourceFromContext 获取被调用的 resource
func ResourceFromContext(ctx context.Context) (*Resource, bool) {
	r, ok := ctx.Value(resourceKey).(*Resource)
	return r, ok
}

// MethodFromContext 获取被调用的操作名（不含命名空间前缀）
func MethodFromContext(ctx context.Context) (string, bool) {
	m, ok := ctx.Value(methodKey).(string)
	return m, ok
}
