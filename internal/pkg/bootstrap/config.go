// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Name     string `yaml:"name"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"groupId"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
	LockRoot       string        `yaml:"lockRoot"`
}

type NacosConfig struct {
	ServerAddrs string `yaml:"serverAddrs"` // "ip1:port1,ip2:port2"
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
	Register    bool   `yaml:"register"`
}

// InfraConfig 是所有服务共享的基础设施地址。没有配置的组件视为未启用。
type InfraConfig struct {
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

// Config 是各服务配置的公共部分，服务自己的配置用 `yaml:",inline"` 内嵌它。
type Config struct {
	App   AppConfig   `yaml:"app"`
	Infra InfraConfig `yaml:"infra"`
}

// envOverrider 由需要从环境变量覆盖配置的类型实现。
type envOverrider interface {
	ApplyEnv()
}

// Load 读取 YAML 配置到 out，然后应用环境变量覆盖。path 为空时只应用环境变量。
func Load(path string, out interface{}) error {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, out); err != nil {
			return errors.Wrapf(err, "parse config %s", path)
		}
	}
	if o, ok := out.(envOverrider); ok {
		o.ApplyEnv()
	}
	return nil
}

// ApplyEnv 用环境变量覆盖基础设施地址，便于容器部署。
func (c *Config) ApplyEnv() {
	c.App.Port = getEnvInt("PORT", c.App.Port)
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.MySQL.DSN = getEnv("MYSQL_DSN", c.Infra.MySQL.DSN)
	c.Infra.Redis.Addrs = getEnvList("REDIS_ADDRS", c.Infra.Redis.Addrs)
	c.Infra.Kafka.Brokers = getEnvList("KAFKA_BROKERS", c.Infra.Kafka.Brokers)
	c.Infra.Zookeeper.Servers = getEnvList("ZK_SERVERS", c.Infra.Zookeeper.Servers)
	c.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.ServerAddrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnv 供各服务覆盖自己的配置项。
func GetEnv(key, fallback string) string { return getEnv(key, fallback) }

// GetEnvList 与 GetEnv 相同，但按逗号拆分。
func GetEnvList(key string, fallback []string) []string { return getEnvList(key, fallback) }

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvList 解析逗号分隔的列表，忽略空项。
func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
