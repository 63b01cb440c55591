package config

import (
	"fmt"
	"path/filepath"

	"autoclose/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch 监听主配置文件变更；重新加载并校验通过后回调 onChange。
// 校验失败时保留旧配置，只记录告警。
func Watch(path string, onChange func(*Config)) error {
	if onChange == nil {
		return fmt.Errorf("config watch callback cannot be nil")
	}
	main, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	v := viper.New()
	v.SetConfigFile(main)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", main, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(path)
		if err != nil {
			logger.Warnf("[config] reload of %s rejected: %v", e.Name, err)
			return
		}
		logger.Infof("[config] reloaded %s", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
