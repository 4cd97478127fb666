package zresource

import "context"

// ServerBeforeCall 服务端调用 handler 前执行
type ServerBeforeCall func(ctx context.Context, resource, method string, spark *Spark)

// ServerAfterCall 服务端 handler 返回后执行（此时不一定已经应答）
type ServerAfterCall func(ctx context.Context, resource, method string, spark *Spark)

// ServerRecover 服务端调用 handler 发生 panic 时执行
type ServerRecover func(ctx context.Context, resource, method string, err error)
