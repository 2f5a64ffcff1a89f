package compressor

import (
	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

// Compressor 抽象了“整块压缩/解压”能力，用于序列化后的完整文档。
type Compressor interface {
	// Compress 将 src 压缩后追加到 dst[:0]，返回压缩后的完整数据。
	Compress(dst, src []byte) (packet []byte, err error)

	// Decompress 与 Compress 对称，src 必须是 Compress 的输出。
	Decompress(dst, src []byte) (plain []byte, err error)

	Close()
}

// NopCompressor 不做任何处理，直接返回输入内容。
type NopCompressor struct{}

func (NopCompressor) Compress(_ []byte, src []byte) ([]byte, error) {
	return src, nil
}

func (NopCompressor) Decompress(_ []byte, src []byte) ([]byte, error) {
	return src, nil
}

func (NopCompressor) Close() {}

var _ Compressor = NopCompressor{}

// New 按名称创建压缩器，支持 "none"（或空字符串）与 "zstd"。
func New(name string) (Compressor, error) {
	switch name {
	case "", "none":
		return NopCompressor{}, nil
	case "zstd":
		return NewZstdCompressor()
	default:
		return nil, merr.WrapErrParameterInvalidMsg("unknown compression %q", name)
	}
}
