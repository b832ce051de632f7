package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var valid = validator.New()

// Config 全局配置结构体（聚合所有核心模块）
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server" comment:"HTTP服务配置"`
	Monitor MonitorConfig `yaml:"monitor" mapstructure:"monitor" comment:"自身监控采集配置"`
	Task    TaskConfig    `yaml:"task" mapstructure:"task" comment:"数据采集任务配置"`
	Log     ZapLogConfig  `yaml:"log" mapstructure:"log" comment:"日志配置"`
}

// ServerConfig HTTP服务配置（超时统一为time.Duration，支持"30s"解析）
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr" env:"HTTP_ADDR" validate:"required,hostname_port" comment:"HTTP监听地址（格式：ip:port）"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" env:"HTTP_READ_TIMEOUT" validate:"required,gt=0" comment:"读取超时时间（如30s）"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" env:"HTTP_WRITE_TIMEOUT" validate:"required,gt=0" comment:"写入超时时间（如30s）"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" validate:"required,gt=0" comment:"空闲连接超时时间（如60s）"`
}

// MonitorConfig 采集进程自身的资源监控配置
type MonitorConfig struct {
	Interval time.Duration     `yaml:"interval" mapstructure:"interval" env:"MONITOR_INTERVAL" validate:"required,gt=0" comment:"监控采集间隔（如10s）" default:"10s"`
	Process  ProcessSelfConfig `yaml:"process" mapstructure:"process" comment:"进程资源采集（CPU/内存/负载）"`
}

// ProcessSelfConfig 进程自身资源采集开关
type ProcessSelfConfig struct {
	Enable bool `yaml:"enable" mapstructure:"enable" env:"MONITOR_PROCESS_ENABLE" comment:"是否采集进程自身资源" default:"true"`
}

// TaskConfig 一个验证任务实例的完整采集配置
type TaskConfig struct {
	ID        string `yaml:"id" mapstructure:"id" env:"TASK_ID" comment:"任务ID（为空时自动生成uuid）"`
	StateType string `yaml:"state_type" mapstructure:"state_type" env:"TASK_STATE_TYPE" validate:"required" comment:"上报给编排器的状态类型（如APP_DYNAMICS）"`

	Mode     string `yaml:"mode" mapstructure:"mode" env:"TASK_MODE" validate:"required,oneof=bounded always_on" comment:"任务模式：bounded 按窗口增量采集 / always_on 24x7 一次性采集"`
	Strategy string `yaml:"strategy" mapstructure:"strategy" env:"TASK_STRATEGY" validate:"required,oneof=comparative predictive" comment:"分析策略"`

	TotalCollectionMinutes  int `yaml:"total_collection_minutes" mapstructure:"total_collection_minutes" validate:"required,gt=0" comment:"总采集分钟数"`
	CollectionWindowMinutes int `yaml:"collection_window_minutes" mapstructure:"collection_window_minutes" validate:"required,gt=0" comment:"每次tick采集的窗口分钟数"`

	TickPeriod      time.Duration `yaml:"tick_period" mapstructure:"tick_period" validate:"required,gt=0" comment:"调度周期" default:"1m"`
	InitialDelayMin time.Duration `yaml:"initial_delay_min" mapstructure:"initial_delay_min" validate:"gte=0" comment:"首次调度最小延迟"`
	InitialDelayMax time.Duration `yaml:"initial_delay_max" mapstructure:"initial_delay_max" validate:"gte=0" comment:"首次调度最大延迟"`

	MaxRetries       int           `yaml:"max_retries" mapstructure:"max_retries" validate:"required,gt=0" comment:"单次tick最大尝试次数" default:"3"`
	RetryBackoff     time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff" validate:"gte=0" comment:"重试固定间隔" default:"30s"`
	FetchConcurrency int           `yaml:"fetch_concurrency" mapstructure:"fetch_concurrency" validate:"required,gt=0" comment:"单次tick内并发拉取数" default:"10"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout" mapstructure:"fetch_timeout" validate:"required,gt=0" comment:"单个拉取请求超时" default:"30s"`

	StartTime         time.Time `yaml:"start_time" mapstructure:"start_time" comment:"always_on 模式的窗口起点（为空则取 now-total）"`
	LookBackMinutes   int       `yaml:"look_back_minutes" mapstructure:"look_back_minutes" validate:"gte=0" comment:"predictive 首个tick回看分钟数" default:"120"`
	CanaryDays        int       `yaml:"canary_days" mapstructure:"canary_days" validate:"gte=0" comment:"canary 对照天数" default:"7"`
	TestHost          string    `yaml:"test_host" mapstructure:"test_host" validate:"required" comment:"canary 测试主机保留名" default:"testNode"`
	ControlHostPrefix string    `yaml:"control_host_prefix" mapstructure:"control_host_prefix" validate:"required" comment:"canary 对照主机名前缀" default:"controlNode"`
	CanaryURL         string    `yaml:"canary_url" mapstructure:"canary_url" comment:"显式的canary数据URL模板"`

	Hosts   []HostConfig      `yaml:"hosts" mapstructure:"hosts" validate:"required,min=1,dive" comment:"主机及分组"`
	BaseURL string            `yaml:"base_url" mapstructure:"base_url" validate:"required" comment:"第三方监控后端基础URL"`
	Headers map[string]string `yaml:"headers" mapstructure:"headers" comment:"请求头模板"`
	Options map[string]string `yaml:"options" mapstructure:"options" comment:"请求选项模板"`
	Metrics []MetricTemplate  `yaml:"metrics" mapstructure:"metrics" validate:"required,min=1,dive" comment:"每个指标的URL/Body模板"`
	Secrets map[string]string `yaml:"secrets" mapstructure:"secrets" comment:"占位符名称 -> 密文引用"`

	Persistence PersistenceConfig `yaml:"persistence" mapstructure:"persistence" comment:"持久化标识"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output" comment:"默认持久化落盘配置"`
}

// HostConfig 主机与分组映射
type HostConfig struct {
	Name  string `yaml:"name" mapstructure:"name" validate:"required"`
	Group string `yaml:"group" mapstructure:"group"`
}

// MetricTemplate 单个指标的请求模板
type MetricTemplate struct {
	Name   string `yaml:"name" mapstructure:"name" validate:"required"`
	Path   string `yaml:"path" mapstructure:"path"`
	Method string `yaml:"method" mapstructure:"method" validate:"omitempty,oneof=GET POST"`
	Body   string `yaml:"body" mapstructure:"body"`
}

// PersistenceConfig 上报持久化层所需的标识
type PersistenceConfig struct {
	AccountID        string `yaml:"account_id" mapstructure:"account_id" validate:"required"`
	AppID            string `yaml:"app_id" mapstructure:"app_id" validate:"required"`
	ServiceID        string `yaml:"service_id" mapstructure:"service_id"`
	WorkflowID       string `yaml:"workflow_id" mapstructure:"workflow_id"`
	StateExecutionID string `yaml:"state_execution_id" mapstructure:"state_execution_id" validate:"required"`
}

// OutputConfig 默认持久化器的输出文件
type OutputConfig struct {
	Path string `yaml:"path" mapstructure:"path" validate:"required" default:"./data/records.jsonl"`
}

// ZapLogConfig 日志配置
type ZapLogConfig struct {
	Level     string `yaml:"level" mapstructure:"level" env:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal" comment:"日志级别" default:"info"`
	Format    string `yaml:"format" mapstructure:"format" env:"LOG_FORMAT" validate:"required,oneof=json console" comment:"日志格式（json/console）" default:"json"`
	Path      string `yaml:"path" mapstructure:"path" env:"LOG_PATH" validate:"required" comment:"日志存储路径" default:"./logs"`
	MaxSize   int    `yaml:"max_size" mapstructure:"max_size" env:"LOG_MAX_SIZE" validate:"required,gt=0" comment:"单个日志文件最大大小（MB）" default:"100"`
	MaxBackup int    `yaml:"max_backup" mapstructure:"max_backup" env:"LOG_MAX_BACKUP" validate:"gte=0" comment:"日志文件最大备份数" default:"30"`
	MaxAge    int    `yaml:"max_age" mapstructure:"max_age" env:"LOG_MAX_AGE" validate:"gte=0" comment:"日志文件最大保存天数" default:"7"`
	Compress  bool   `yaml:"compress" mapstructure:"compress" env:"LOG_COMPRESS" comment:"是否压缩过期日志" default:"true"`
}

// NewDefaultConfig 创建默认配置（所有字段兜底，避免空指针/非法值）
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "0.0.0.0:9091",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval: 10 * time.Second,
			Process:  ProcessSelfConfig{Enable: true},
		},
		Task: TaskConfig{
			StateType:               "APM_VERIFICATION",
			Mode:                    "bounded",
			Strategy:                "comparative",
			TotalCollectionMinutes:  15,
			CollectionWindowMinutes: 1,
			TickPeriod:              time.Minute,
			InitialDelayMin:         0,
			InitialDelayMax:         0,
			MaxRetries:              3,
			RetryBackoff:            30 * time.Second,
			FetchConcurrency:        10,
			FetchTimeout:            30 * time.Second,
			LookBackMinutes:         120,
			CanaryDays:              7,
			TestHost:                "testNode",
			ControlHostPrefix:       "controlNode",
			Headers:                 map[string]string{},
			Options:                 map[string]string{},
			Secrets:                 map[string]string{},
			Output:                  OutputConfig{Path: "./data/records.jsonl"},
		},
		Log: ZapLogConfig{
			Level:     "info",
			Format:    "json",
			Path:      "./logs",
			MaxSize:   100,
			MaxBackup: 30,
			MaxAge:    7,
			Compress:  true,
		},
	}
}

// LoadConfigWithCli 支持 time.Duration，(Flags + YAML + ENV)
func LoadConfigWithCli(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	// 1. 绑定 Cobra Flags → Viper
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	// 2. 解析配置文件 (--config)
	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	// 3. 绑定环境变量 ENV -> Viper （HTTP_ADDR -> http.addr）
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return decode(v)
}

// LoadFile 仅从 YAML 文件加载（测试和嵌入式调用使用）
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return decode(v)
}

// decode 把 viper 中的配置解码到默认配置之上并校验
func decode(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()

	// 4. 解码反序列化到结构体（支持 time.Duration）
	decoderConfig := &mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
		),
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Task.ID == "" {
		cfg.Task.ID = uuid.NewString()
	}

	// 5. 校验配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate 配置校验
func (c *Config) Validate() error {
	// 	1,校验Server服务配置
	if err := c.Server.Validate(); err != nil {
		return err
	}
	// 	2，校验自身监控配置
	if err := c.Monitor.Validate(); err != nil {
		return err
	}
	// 	3，校验采集任务配置
	if err := c.Task.Validate(); err != nil {
		return err
	}
	// 	4，校验日志配置
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}
