// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/lk2023060901/objgraph-go/pkg/metrics"
)

var _ zapcore.Core = (*asyncIOCore)(nil)

// NewAsyncIOCore 创建一个异步 IO Core：编码在调用方完成，写入由后台协程经 BufferedWriteSyncer 完成。
// cfg 中的 AsyncWrite* 参数需已经过 normalizeAsyncWrite。
func NewAsyncIOCore(cfg *Config, ws zapcore.WriteSyncer, enab zapcore.LevelEnabler) *asyncIOCore {
	nonDroppableLevel, _ := zapcore.ParseLevel(cfg.AsyncWriteNonDroppableLevel)
	ctx, cancel := context.WithCancel(context.Background())
	core := &asyncIOCore{
		LevelEnabler: enab,
		lifetime: &asyncLifetime{
			ctx:      ctx,
			cancel:   cancel,
			finished: make(chan struct{}),
		},
		enc: newZapEncoder(cfg),
		bws: &zapcore.BufferedWriteSyncer{
			WS:            ws,
			Size:          cfg.AsyncWriteBufferSize,
			FlushInterval: cfg.AsyncWriteFlushInterval,
		},
		pending:             make(chan *entryItem, cfg.AsyncWritePendingLength),
		writeDroppedTimeout: cfg.AsyncWriteDroppedTimeout,
		nonDroppableLevel:   nonDroppableLevel,
		stopTimeout:         cfg.AsyncWriteStopTimeout,
		maxBytesPerLog:      cfg.AsyncWriteMaxBytesPerLog,
	}
	go core.background()
	return core
}

// asyncLifetime 由同一个 Core 派生出的所有副本共享，Stop 只需执行一次。
type asyncLifetime struct {
	ctx      context.Context
	cancel   context.CancelFunc
	finished chan struct{}
	stopOnce sync.Once
}

type asyncIOCore struct {
	zapcore.LevelEnabler

	lifetime            *asyncLifetime
	enc                 zapcore.Encoder
	bws                 *zapcore.BufferedWriteSyncer
	pending             chan *entryItem
	writeDroppedTimeout time.Duration
	nonDroppableLevel   zapcore.Level
	stopTimeout         time.Duration
	maxBytesPerLog      int
}

// entryItem 为已编码、等待写入的日志条目。
type entryItem struct {
	buf   *buffer.Buffer
	level zapcore.Level
}

func (s *asyncIOCore) With(fields []zapcore.Field) zapcore.Core {
	enc := s.enc.Clone()
	for _, field := range fields {
		field.AddTo(enc)
	}
	clone := *s
	clone.enc = enc
	return &clone
}

func (s *asyncIOCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(ent.Level) {
		return ce.AddCore(ent, s)
	}
	return ce
}

// Write 将编码后的日志放入队列。低于 nonDroppableLevel 的日志在队列满且等待超时后丢弃。
func (s *asyncIOCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := s.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	length := buf.Len()
	if length == 0 {
		buf.Free()
		return nil
	}

	var writeDroppedTimeout <-chan time.Time
	if ent.Level < s.nonDroppableLevel {
		writeDroppedTimeout = time.After(s.writeDroppedTimeout)
	}
	select {
	case s.pending <- &entryItem{buf: buf, level: ent.Level}:
		metrics.LoggingPendingWriteLength.Inc()
		metrics.LoggingPendingWriteBytes.Add(float64(length))
	case <-writeDroppedTimeout:
		metrics.LoggingDroppedWrites.Inc()
		buf.Free()
	}
	return nil
}

// Sync 不等待队列清空，队列由 Stop 负责刷出。
func (s *asyncIOCore) Sync() error {
	return nil
}

func (s *asyncIOCore) background() {
	defer func() {
		s.flushPendingWriteWithTimeout()
		close(s.lifetime.finished)
	}()

	for {
		select {
		case <-s.lifetime.ctx.Done():
			return
		case ent := <-s.pending:
			s.consumeEntry(ent)
		}
	}
}

func (s *asyncIOCore) consumeEntry(ent *entryItem) {
	length := ent.buf.Len()
	metrics.LoggingPendingWriteLength.Dec()
	metrics.LoggingPendingWriteBytes.Sub(float64(length))
	if _, err := s.bws.Write(s.getWriteBytes(ent)); err != nil {
		metrics.LoggingIOFailure.Inc()
	}
	ent.buf.Free()
	if ent.level > zapcore.ErrorLevel {
		_ = s.bws.Sync()
	}
}

// getWriteBytes 超过 maxBytesPerLog 的日志被截断，保留末尾的换行符。
func (s *asyncIOCore) getWriteBytes(ent *entryItem) []byte {
	length := ent.buf.Len()
	writes := ent.buf.Bytes()

	if length > s.maxBytesPerLog {
		metrics.LoggingTruncatedWrites.Inc()
		metrics.LoggingTruncatedWriteBytes.Add(float64(length - s.maxBytesPerLog))

		end := writes[length-1]
		writes = writes[:s.maxBytesPerLog]
		writes[len(writes)-1] = end
	}
	return writes
}

func (s *asyncIOCore) flushPendingWriteWithTimeout() {
	done := make(chan struct{})
	go s.flushAllPendingWrites(done)

	select {
	case <-time.After(s.stopTimeout):
	case <-done:
	}
}

func (s *asyncIOCore) flushAllPendingWrites(done chan struct{}) {
	defer func() {
		if err := s.bws.Stop(); err != nil {
			metrics.LoggingIOFailure.Inc()
		}
		close(done)
	}()

	for {
		select {
		case ent := <-s.pending:
			s.consumeEntry(ent)
		default:
			return
		}
	}
}

// Stop 停止后台协程并在 stopTimeout 内刷出队列中剩余的日志，可重复调用。
func (s *asyncIOCore) Stop() {
	s.lifetime.stopOnce.Do(s.lifetime.cancel)
	<-s.lifetime.finished
}
