package config

type Source interface {
	Load(*Config) error
}

type ConfigManager struct {
	*Config
	s Source
}

func NewConfigManager(s Source) *ConfigManager {
	return &ConfigManager{
		s:      s,
		Config: defaultConfig(),
	}
}

func (cm *ConfigManager) Load() error {
	return cm.s.Load(cm.Config)
}
