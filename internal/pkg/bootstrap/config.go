// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 是进程级配置，启动时从 YAML 文件加载一次。
// 字段缺省值见 defaultConfig，环境变量 FULFIL_CONFIG 指定文件位置。
type Config struct {
	App struct {
		LogLevel string `yaml:"logLevel"`
	} `yaml:"app"`

	Infra struct {
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Kafka struct {
			Brokers        []string `yaml:"brokers"`
			LifecycleTopic string   `yaml:"lifecycleTopic"`
			SignalTopic    string   `yaml:"signalTopic"`
			SignalGroupID  string   `yaml:"signalGroupId"`
		} `yaml:"kafka"`
		Redis struct {
			Addr string `yaml:"addr"`
		} `yaml:"redis"`
		Mysql struct {
			DSN string `yaml:"dsn"`
		} `yaml:"mysql"`
		Zookeeper struct {
			Servers []string `yaml:"servers"`
		} `yaml:"zookeeper"`
	} `yaml:"infra"`

	Services struct {
		PaymentURL string `yaml:"paymentUrl"`
		ChainURL   string `yaml:"chainUrl"`
	} `yaml:"services"`
}

var (
	configOnce    sync.Once
	currentConfig Config
)

func defaultConfig() Config {
	var c Config
	c.App.LogLevel = "info"
	c.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	c.Infra.Kafka.Brokers = []string{"localhost:9092"}
	c.Infra.Kafka.LifecycleTopic = "order-lifecycle-v1"
	c.Infra.Kafka.SignalTopic = "order-signals-v1"
	c.Infra.Kafka.SignalGroupID = "order-signal-worker"
	c.Infra.Redis.Addr = "localhost:6379"
	c.Infra.Mysql.DSN = "root:root@tcp(localhost:3306)/fulfil?charset=utf8mb4&parseTime=True"
	c.Infra.Zookeeper.Servers = []string{"localhost:2181"}
	c.Services.PaymentURL = "http://localhost:8091"
	c.Services.ChainURL = "http://localhost:8092"
	return c
}

// LoadConfig 加载配置文件。文件不存在时使用默认值，解析失败返回错误。
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	path := os.Getenv("FULFIL_CONFIG")
	if path == "" {
		path = "configs/fulfil.yaml"
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// GetCurrentConfig 返回进程配置，首次调用时加载。
func GetCurrentConfig() Config {
	configOnce.Do(func() {
		cfg, err := LoadConfig()
		if err != nil {
			panic(err)
		}
		currentConfig = cfg
	})
	return currentConfig
}
