package serialization

import (
	"github.com/blang/semver/v4"

	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
)

const (
	CompressionNone = "none"
	CompressionZstd = "zstd"

	DefaultMaxDepth      = 64
	DefaultFormatVersion = "1.0.0"
)

type WarmupConfig struct {
	// BatchSize 为每个并发任务处理的类型数量，<= 0 表示在调用方协程中顺序执行。
	BatchSize int  `mapstructure:"batchSize" yaml:"batchSize" json:"batchSize"`
	OnStartup bool `mapstructure:"onStartup" yaml:"onStartup" json:"onStartup"`
}

// Configuration 为序列化器的可配置项。
type Configuration struct {
	MaxDepth      int          `mapstructure:"maxDepth" yaml:"maxDepth" json:"maxDepth"`
	Indent        bool         `mapstructure:"indent" yaml:"indent" json:"indent"`
	Compression   string       `mapstructure:"compression" yaml:"compression" json:"compression"`
	FormatVersion string       `mapstructure:"formatVersion" yaml:"formatVersion" json:"formatVersion"`
	Warmup        WarmupConfig `mapstructure:"warmup" yaml:"warmup" json:"warmup"`
}

func DefaultConfiguration() *Configuration {
	return &Configuration{
		MaxDepth:      DefaultMaxDepth,
		Compression:   CompressionNone,
		FormatVersion: DefaultFormatVersion,
	}
}

// Normalize 为未设置的字段填充默认值并校验配置。
func (c *Configuration) Normalize() error {
	if c.MaxDepth == 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	if c.MaxDepth < 0 {
		return merr.WrapErrParameterInvalidMsg("maxDepth must be positive, got %d", c.MaxDepth)
	}
	if c.Compression == "" {
		c.Compression = CompressionNone
	}
	if c.Compression != CompressionNone && c.Compression != CompressionZstd {
		return merr.WrapErrParameterInvalidMsg("unknown compression %q", c.Compression)
	}
	if c.FormatVersion == "" {
		c.FormatVersion = DefaultFormatVersion
	}
	if _, err := semver.Parse(c.FormatVersion); err != nil {
		return merr.WrapErrParameterInvalidMsg("invalid formatVersion %q: %v", c.FormatVersion, err)
	}
	return nil
}

// Version 返回解析后的格式版本，无法解析时返回默认版本。
func (c *Configuration) Version() semver.Version {
	if v, err := semver.Parse(c.FormatVersion); err == nil {
		return v
	}
	return semver.MustParse(DefaultFormatVersion)
}

// CompatibleVersion 判断流中记录的版本与当前配置的主版本是否一致。
func (c *Configuration) CompatibleVersion(streamVersion string) (bool, error) {
	v, err := semver.Parse(streamVersion)
	if err != nil {
		return false, merr.WrapErrFormatVersion(c.FormatVersion, streamVersion)
	}
	return v.Major == c.Version().Major, nil
}
