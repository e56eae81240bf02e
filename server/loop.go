package server

import (
	"context"
	"time"
)

// Run 启动注册表的处理循环（单协程串行执行所有变更），ctx 结束后返回
// 重复调用直接返回
func (r *Registry) Run(ctx context.Context) {
	first := false
	r.started.Do(func() { first = true })
	if !first {
		return
	}
	defer close(r.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-r.ops:
			start := time.Now()
			op()
			r.metrics.AddOp(time.Since(start).Nanoseconds())
		}
	}
}

// Done 在 Run 退出后关闭
func (r *Registry) Done() <-chan struct{} { return r.stopped }
