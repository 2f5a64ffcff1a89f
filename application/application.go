package application

import (
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/lk2023060901/objgraph-go/internal/serialization"
	"github.com/lk2023060901/objgraph-go/internal/serialization/json"
	"github.com/lk2023060901/objgraph-go/internal/serialization/xml"
	zlog "github.com/lk2023060901/objgraph-go/pkg/log"
	"github.com/lk2023060901/objgraph-go/pkg/metrics"
	"github.com/lk2023060901/objgraph-go/pkg/util/merr"
	zviper "github.com/lk2023060901/objgraph-go/pkg/util/viper"
)

const (
	defaultConfigPath = "./config.yaml"
	configPathEnv     = "OBJGRAPH_CONFIG_FILE_PATH"
	envPrefix         = "OBJGRAPH"
)

// Config 为配置文件的完整结构。
//
//	log:
//	  level: info
//	  stdout: true
//	  async-write-enable: true
//	logging:
//	  warmup:
//	    level: debug
//	    file:
//	      rootpath: ./logs
//	      filename: warmup.log
//	serializer:
//	  maxDepth: 64
//	  compression: zstd
//	  warmup:
//	    onStartup: true
//	    batchSize: 8
type Config struct {
	Log        zlog.Config                 `mapstructure:"log"`
	Logging    map[string]zlog.Config      `mapstructure:"logging"`
	Serializer serialization.Configuration `mapstructure:"serializer"`
}

// Serializer 是对外暴露的序列化器，XML 与 JSON 后端都满足该接口。
type Serializer interface {
	Serialize(model any, w io.Writer) error
	Deserialize(model any, r io.Reader) error
	DeserializeType(t reflect.Type, r io.Reader) (any, error)
	Warmup(types []reflect.Type, batchSize int) error
	Close()
}

// Application 持有配置、日志与序列化器，是进程的启动入口。
type Application struct {
	cfg     *zviper.Config
	conf    Config
	loggers map[string]*zlog.MLogger
	cores   []*zlog.ZapProperties

	serializers map[string]Serializer
	undoProcs   func()
}

func New() *Application {
	return &Application{}
}

// Run 解析命令行参数（os.Args）并完成初始化。配置文件路径按以下顺序覆盖：
//  1. 默认：./config.yaml（不存在时只使用默认值与环境变量）
//  2. 环境变量：OBJGRAPH_CONFIG_FILE_PATH
//  3. 命令行：--config <path> 或 --config=<path>
func (a *Application) Run() error {
	return a.run(os.Args[1:])
}

func (a *Application) run(args []string) error {
	cfg, err := a.loadConfig(args)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := a.initLogging(); err != nil {
		return err
	}

	undo, err := maxprocs.Set(maxprocs.Logger(zlog.S().Infof))
	if err != nil {
		zlog.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}
	a.undoProcs = undo

	metrics.Register(prometheus.DefaultRegisterer)

	if err := a.initSerializers(); err != nil {
		return err
	}
	return a.warmup()
}

// Config 返回加载后的配置。
func (a *Application) Config() Config {
	return a.conf
}

// Logger 返回配置中声明的具名 Logger，名称未知时回退到全局 Logger。
func (a *Application) Logger(name string) *zlog.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L()}
}

// Resolve 按格式名返回序列化器，格式名为 "xml" 或 "json"。
func (a *Application) Resolve(format string) (Serializer, error) {
	if s, ok := a.serializers[strings.ToLower(format)]; ok {
		return s, nil
	}
	return nil, merr.WrapErrParameterInvalidMsg("unknown serialization format %q", format)
}

// Close 释放所有序列化器并刷新日志。
func (a *Application) Close() {
	for _, s := range a.serializers {
		s.Close()
	}
	a.serializers = nil
	if a.undoProcs != nil {
		a.undoProcs()
		a.undoProcs = nil
	}
	_ = zlog.Sync()
	// 异步 Core 在停止时刷出队列中剩余的日志。
	for _, props := range a.cores {
		props.Stop()
	}
	a.cores = nil
}

func (a *Application) loadConfig(args []string) (*zviper.Config, error) {
	configPath := defaultConfigPath
	explicit := false

	if envPath := os.Getenv(configPathEnv); envPath != "" {
		configPath = envPath
		explicit = true
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return nil, merr.WrapErrParameterMissing("config", "missing value after --config")
			}
			configPath = args[i+1]
			explicit = true
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			if val := strings.TrimPrefix(arg, "--config="); val != "" {
				configPath = val
				explicit = true
			}
		}
	}

	cfg := zviper.New()
	setDefaults(cfg)
	cfg.BindEnv(envPrefix)

	if _, err := os.Stat(configPath); err == nil || explicit {
		if err := cfg.LoadFile(configPath); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %q", configPath)
		}
	}

	if err := cfg.Unmarshal(&a.conf); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	return cfg, nil
}

// setDefaults 登记所有可由环境变量覆盖的键，viper 只为已知键读取环境变量。
func setDefaults(cfg *zviper.Config) {
	def := serialization.DefaultConfiguration()
	cfg.SetDefault("serializer.maxDepth", def.MaxDepth)
	cfg.SetDefault("serializer.indent", def.Indent)
	cfg.SetDefault("serializer.compression", def.Compression)
	cfg.SetDefault("serializer.formatVersion", def.FormatVersion)
	cfg.SetDefault("serializer.warmup.batchSize", def.Warmup.BatchSize)
	cfg.SetDefault("serializer.warmup.onStartup", def.Warmup.OnStartup)

	cfg.SetDefault("log.level", "info")
	cfg.SetDefault("log.format", "text")
	cfg.SetDefault("log.stdout", true)
	cfg.SetDefault("log.disable-error-verbose", true)
	cfg.SetDefault("log.file.rootpath", "")
	cfg.SetDefault("log.file.filename", "")
	cfg.SetDefault("log.async-write-enable", false)
}

func (a *Application) initLogging() error {
	logger, props, err := zlog.InitLogger(&a.conf.Log)
	if err != nil {
		return errors.Wrap(err, "init global logger")
	}
	zlog.ReplaceGlobals(logger, props)
	a.cores = append(a.cores, props)

	if len(a.conf.Logging) == 0 {
		return nil
	}
	a.loggers = make(map[string]*zlog.MLogger, len(a.conf.Logging))
	for name, lc := range a.conf.Logging {
		cfgCopy := lc
		logger, props, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.cores = append(a.cores, props)
		a.loggers[name] = &zlog.MLogger{Logger: logger.With(zlog.FieldModule(name))}
	}
	return nil
}

func (a *Application) initSerializers() error {
	// 每个后端持有独立的配置副本，Normalize 会就地修改。
	xmlConf, jsonConf := a.conf.Serializer, a.conf.Serializer

	xs, err := xml.New(
		serialization.WithConfiguration(&xmlConf),
		serialization.WithLogger(a.Logger(xml.FormatName)),
	)
	if err != nil {
		return errors.Wrap(err, "init xml serializer")
	}
	js, err := json.New(
		serialization.WithConfiguration(&jsonConf),
		serialization.WithLogger(a.Logger(json.FormatName)),
	)
	if err != nil {
		xs.Close()
		return errors.Wrap(err, "init json serializer")
	}

	a.serializers = map[string]Serializer{
		xml.FormatName:  xs,
		json.FormatName: js,
	}
	return nil
}

func (a *Application) warmup() error {
	wc := a.conf.Serializer.Warmup
	if !wc.OnStartup {
		return nil
	}
	for format, s := range a.serializers {
		if err := s.Warmup(nil, wc.BatchSize); err != nil {
			return errors.Wrapf(err, "warmup %s serializer", format)
		}
	}
	return nil
}
