package serialization

import (
	"reflect"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/lk2023060901/objgraph-go/pkg/metrics"
	"github.com/lk2023060901/objgraph-go/pkg/util/conc"
)

// Warmup 预先填充类型的分类缓存、成员快照以及后端自身的缓存。
//
// types 为空时使用注册表中登记的全部模型类型。batchSize <= 0 或不小于类型数量时
// 在调用方协程中顺序执行，便于排查问题；否则按批次提交到协程池，全部完成后返回。
func (e *Engine) Warmup(types []reflect.Type, batchSize int) error {
	if len(types) == 0 {
		types = e.Registry().ModelTypes()
	}
	if len(types) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		e.Logger().Info("serialization warmup finished",
			zap.Int("types", len(types)),
			zap.Int("batchSize", batchSize),
			zap.Duration("elapsed", time.Since(start)))
	}()

	if batchSize <= 0 || batchSize >= len(types) {
		for _, t := range types {
			e.warmupType(t)
		}
		return nil
	}

	pool := conc.NewPool[struct{}](0, conc.WithName("serialization-warmup"), conc.WithConcealPanic(true))
	defer pool.Release()

	futures := lo.Map(lo.Chunk(types, batchSize), func(batch []reflect.Type, _ int) *conc.Future[struct{}] {
		return pool.Submit(func() (struct{}, error) {
			for _, t := range batch {
				e.warmupType(t)
			}
			return struct{}{}, nil
		})
	})
	return conc.AwaitAll(futures...)
}

func (e *Engine) warmupType(t reflect.Type) {
	t = indirect(t)
	e.manager.Warmup(t)
	e.ModelInfo(t)
	e.backend.WarmupType(t)
	metrics.WarmupTypes.Inc()
}
