package conc

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	ants "github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/atomic"
)

func TestPool(t *testing.T) {
	pool := NewPool[int](2)
	defer pool.Release()

	assert.Equal(t, 2, pool.Cap())

	futures := make([]*Future[int], 0, 8)
	for i := 0; i < 8; i++ {
		i := i
		futures = append(futures, pool.Submit(func() (int, error) {
			return i * i, nil
		}))
	}
	assert.NoError(t, AwaitAll(futures...))
	for i, f := range futures {
		assert.Equal(t, i*i, f.Value())
	}
}

func TestPoolError(t *testing.T) {
	pool := NewPool[struct{}](1)
	defer pool.Release()

	errBoom := errors.New("boom")
	done := atomic.NewInt32(0)
	f1 := pool.Submit(func() (struct{}, error) {
		return struct{}{}, errBoom
	})
	f2 := pool.Submit(func() (struct{}, error) {
		done.Inc()
		return struct{}{}, nil
	})

	err := AwaitAll(f1, f2)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, int32(1), done.Load(), "AwaitAll must wait for every future")
}

func TestPoolConcealPanic(t *testing.T) {
	pool := NewPool[int](1, WithName("test"), WithConcealPanic(true), WithExpiryDuration(time.Minute))
	defer pool.Release()

	f := pool.Submit(func() (int, error) {
		panic("unexpected")
	})
	assert.False(t, f.OK())
	assert.Contains(t, f.Err().Error(), "pool test panicked")
	assert.Contains(t, f.Err().Error(), "unexpected")
}

func TestPoolNonBlocking(t *testing.T) {
	pool := NewPool[int](1, WithNonBlocking(true))
	defer pool.Release()

	release := make(chan struct{})
	busy := pool.Submit(func() (int, error) {
		<-release
		return 1, nil
	})
	rejected := pool.Submit(func() (int, error) {
		return 2, nil
	})
	assert.ErrorIs(t, rejected.Err(), ants.ErrPoolOverload)

	close(release)
	v, err := busy.Await()
	assert.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestGo(t *testing.T) {
	f := Go(func() (string, error) {
		return "ok", nil
	})
	v, err := f.Await()
	assert.NoError(t, err)
	assert.Equal(t, "ok", v)
	<-f.Inner()
}
