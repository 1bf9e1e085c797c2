package config

import (
	"log"
	"os"
	"time"

	"StoryboardPro-server/engine"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	// 外部生图服务
	Generator struct {
		Addr string `yaml:"addr"`
		// 结果轮询间隔（秒）
		PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	} `yaml:"generator"`
	// 外部一致性校验服务
	Validator struct {
		Addr string `yaml:"addr"`
	} `yaml:"validator"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
		Domain    string `yaml:"domain"`
	} `yaml:"minio"`
	Engine struct {
		AcceptThreshold        float64 `yaml:"accept_threshold"`
		MaxRetries             int     `yaml:"max_retries"`
		WeightCeiling          float64 `yaml:"weight_ceiling"`
		GenerateTimeoutSeconds int     `yaml:"generate_timeout_seconds"`
		LockSeed               bool    `yaml:"lock_seed"`
	} `yaml:"engine"`
}

var AppConfig *Config

func InitConfig() {
	f, err := os.Open("config/config.yaml")
	if err != nil {
		log.Fatalf("配置文件读取失败: %v", err)
	}
	defer f.Close()
	decoder := yaml.NewDecoder(f)
	AppConfig = &Config{}
	if err := decoder.Decode(AppConfig); err != nil {
		log.Fatalf("配置文件解析失败: %v", err)
	}
}

// EngineConfig 把 yaml 配置转为引擎配置，缺省值由引擎默认值兜底
func (c *Config) EngineConfig() engine.EngineConfig {
	cfg := engine.DefaultEngineConfig()
	if c.Engine.AcceptThreshold > 0 {
		cfg.AcceptThreshold = c.Engine.AcceptThreshold
	}
	if c.Engine.MaxRetries > 0 {
		cfg.MaxRetries = c.Engine.MaxRetries
	}
	if c.Engine.WeightCeiling > 0 {
		cfg.WeightCeiling = c.Engine.WeightCeiling
	}
	if c.Engine.GenerateTimeoutSeconds > 0 {
		cfg.GenerateTimeout = time.Duration(c.Engine.GenerateTimeoutSeconds) * time.Second
	}
	cfg.LockSeed = c.Engine.LockSeed
	return cfg
}
