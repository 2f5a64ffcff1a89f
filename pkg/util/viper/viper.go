package viper

import (
	"path/filepath"
	"strings"

	spfviper "github.com/spf13/viper"
)

// Config 封装 spf13/viper 实例，对外提供精简的 YAML/JSON 配置加载接口。
type Config struct {
	v *spfviper.Viper
}

// New 创建一个空的 Config。
// 未加载配置文件时，Unmarshal 只会填充默认值与环境变量。
func New() *Config {
	return &Config{
		v: spfviper.New(),
	}
}

// LoadFile 将 YAML 或 JSON 配置文件加载到 Config 中。
// 文件类型通过扩展名（.yaml/.yml/.json）推断。
func (c *Config) LoadFile(path string) error {
	c.init()
	c.v.SetConfigFile(path)

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		c.v.SetConfigType("yaml")
	case ".json":
		c.v.SetConfigType("json")
	default:
		// 让 viper 自行推断类型，或在读取时返回清晰的错误信息。
	}

	return c.v.ReadInConfig()
}

// SetDefault 设置 key 的默认值，优先级低于配置文件与环境变量。
func (c *Config) SetDefault(key string, value any) {
	c.init()
	c.v.SetDefault(key, value)
}

// BindEnv 开启环境变量覆盖，key 中的 "." 会替换为 "_"。
// 例如 prefix 为 OBJGRAPH 时，serializer.maxDepth 对应 OBJGRAPH_SERIALIZER_MAXDEPTH。
func (c *Config) BindEnv(prefix string) {
	c.init()
	c.v.SetEnvPrefix(prefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()
}

// Unmarshal 将完整配置反序列化到 dst。
// dst 应为结构体或 map 的指针。
func (c *Config) Unmarshal(dst any) error {
	c.init()
	return c.v.Unmarshal(dst)
}

// UnmarshalKey 将指定 key 对应的子配置反序列化到 dst。
func (c *Config) UnmarshalKey(key string, dst any) error {
	c.init()
	return c.v.UnmarshalKey(key, dst)
}

func (c *Config) init() {
	if c.v == nil {
		c.v = spfviper.New()
	}
}
