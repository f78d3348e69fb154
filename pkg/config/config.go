package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"clobex.com/pkg/logger"
)

// LoadAndWatch 约定读取 config/{service}.yaml，环境变量可覆盖，
// 文件变更时重新 Unmarshal 到 out 并回调 onChange（可为 nil）；
// 回调拿到 viper 实例，需要整份新配置时自己 Unmarshal 到新的结构体
func LoadAndWatch(service string, out interface{}, onChange func(v *viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".") // 兜底，直接放当前目录也行

	// 环境变量覆盖，例如：
	//   CLOBD_HTTP_ADDR 覆盖 http.addr
	//   CLOBD_ADMIN_TOKEN 覆盖 admin.token
	v.SetEnvPrefix(strings.ToUpper(service))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	logger.Info(context.Background(), "config loaded",
		zap.String("service", service), zap.String("file", v.ConfigFileUsed()))

	// 监听文件变更，热更新到 out
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info(context.Background(), "config file changed", zap.String("service", service), zap.String("file", e.Name))
		if err := v.Unmarshal(out); err != nil {
			logger.Error(context.Background(), "reload config failed", zap.String("service", service), zap.Error(err))
			return
		}
		if onChange != nil {
			onChange(v)
		}
	})
	return v, nil
}

// Load 只读一次，不监听；测试和一次性工具用
func Load(path string, out interface{}) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(out)
}
