package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"github.com/zhukovaskychina/gistvac/logger"
)

type CommandLineArgs struct {
	ConfigPath string
}

// Cfg 配置，对应ini的 logs/storage/redo/vacuum 四个段。
// 同名的 .yaml/.yml/.toml 文件使用相同的段和键，例如:
//
//	[vacuum]
//	cost_delay = 2ms
//	cost_limit = 200
type Cfg struct {
	Raw *ini.File

	// logs
	LogError string `default:"" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`

	// storage
	DataDir         string `default:"data" yaml:"data_dir" json:"data_dir,omitempty"`
	PageSize        int    `default:"8192" yaml:"page_size" json:"page_size,omitempty"`
	BufferPoolPages int    `default:"1024" yaml:"buffer_pool_pages" json:"buffer_pool_pages,omitempty"`
	PageCacheBytes  int64  `default:"67108864" yaml:"page_cache_bytes" json:"page_cache_bytes,omitempty"`

	// redo
	RedoLogDir        string        `default:"redo" yaml:"redo_log_dir" json:"redo_log_dir,omitempty"`
	RedoLogBufferSize int           `default:"256" yaml:"buffer_size" json:"buffer_size,omitempty"`
	RedoFlushInterval time.Duration `default:"1s" yaml:"flush_interval" json:"flush_interval,omitempty"`
	RedoCompression   string        `default:"snappy" yaml:"compression" json:"compression,omitempty"`

	// vacuum
	VacuumCostDelay     time.Duration `default:"0s" yaml:"cost_delay" json:"cost_delay,omitempty"`
	VacuumCostLimit     int           `default:"200" yaml:"cost_limit" json:"cost_limit,omitempty"`
	VacuumCostPageHit   int           `default:"1" yaml:"cost_page_hit" json:"cost_page_hit,omitempty"`
	VacuumCostPageDirty int           `default:"20" yaml:"cost_page_dirty" json:"cost_page_dirty,omitempty"`
	AutovacuumSchedule  string        `default:"0 */5 * * * *" yaml:"schedule" json:"schedule,omitempty"`
	LocalIndex          bool          `default:"false" yaml:"local" json:"local,omitempty"`
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:                 ini.Empty(),
		LogLevel:            "info",
		DataDir:             "data",
		PageSize:            8192,
		BufferPoolPages:     1024,
		PageCacheBytes:      64 << 20,
		RedoLogDir:          "redo",
		RedoLogBufferSize:   256,
		RedoFlushInterval:   time.Second,
		RedoCompression:     "snappy",
		VacuumCostLimit:     200,
		VacuumCostPageHit:   1,
		VacuumCostPageDirty: 20,
		AutovacuumSchedule:  "0 */5 * * * *",
	}
}

// Load 加载配置文件，文件不存在时使用默认配置
func (cfg *Cfg) Load(args *CommandLineArgs) (*Cfg, error) {
	raw, err := cfg.loadConfiguration(args)
	if err != nil {
		return nil, err
	}
	cfg.Raw = raw

	cfg.parseLogsCfg(cfg.Raw.Section("logs"))
	cfg.parseStorageCfg(cfg.Raw.Section("storage"))
	cfg.parseRedoCfg(cfg.Raw.Section("redo"))
	cfg.parseVacuumCfg(cfg.Raw.Section("vacuum"))
	return cfg, cfg.validate()
}

func (cfg *Cfg) loadConfiguration(args *CommandLineArgs) (*ini.File, error) {
	configFile := "conf/gistvac.ini"
	if args != nil && args.ConfigPath != "" {
		configFile = args.ConfigPath
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		logger.Debugf("配置文件不存在: %s，使用默认配置", configFile)
		return ini.Empty(), nil
	}

	switch strings.ToLower(filepath.Ext(configFile)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", configFile)
		}
		sections := make(map[string]map[string]interface{})
		if err := yaml.Unmarshal(data, &sections); err != nil {
			return nil, errors.Wrapf(err, "parse %s", configFile)
		}
		return sectionsToIni(sections)
	case ".toml":
		tree, err := toml.LoadFile(configFile)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", configFile)
		}
		sections := make(map[string]map[string]interface{})
		for name, value := range tree.ToMap() {
			if kv, ok := value.(map[string]interface{}); ok {
				sections[name] = kv
			}
		}
		return sectionsToIni(sections)
	default:
		parsedFile, err := ini.Load(configFile)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", configFile)
		}
		logger.Debugf("成功加载配置文件: %s", configFile)
		return parsedFile, nil
	}
}

// sectionsToIni 将yaml/toml的两层结构转换为ini，后续解析统一走ini
func sectionsToIni(sections map[string]map[string]interface{}) (*ini.File, error) {
	file := ini.Empty()
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		section, err := file.NewSection(name)
		if err != nil {
			return nil, errors.Wrapf(err, "section %s", name)
		}
		for key, value := range sections[name] {
			if _, err := section.NewKey(key, fmt.Sprint(value)); err != nil {
				return nil, errors.Wrapf(err, "key %s.%s", name, key)
			}
		}
	}
	return file, nil
}

func valueAsString(section *ini.Section, keyName string, defaultValue string) string {
	if section == nil {
		return defaultValue
	}
	value := section.Key(keyName).MustString(defaultValue)
	if value == "" {
		value = defaultValue
	}
	return value
}

// GetString 获取配置项的字符串值，key形如 section.key
func (cfg *Cfg) GetString(key string) string {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) < 2 {
		return ""
	}
	return valueAsString(cfg.Raw.Section(parts[0]), parts[1], "")
}

// GetInt 获取配置项的整数值
func (cfg *Cfg) GetInt(key string) int {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) < 2 {
		return 0
	}
	return cfg.Raw.Section(parts[0]).Key(parts[1]).MustInt(0)
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) {
	cfg.LogError = valueAsString(section, "log_error", cfg.LogError)
	cfg.LogInfos = valueAsString(section, "log_infos", cfg.LogInfos)

	logLevel := strings.ToLower(valueAsString(section, "log_level", cfg.LogLevel))
	switch logLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
		cfg.LogLevel = logLevel
	default:
		logger.Debugf("警告: 无效的日志级别 '%s', 使用默认级别 'info'", logLevel)
		cfg.LogLevel = "info"
	}
}

func (cfg *Cfg) parseStorageCfg(section *ini.Section) {
	cfg.DataDir = valueAsString(section, "data_dir", cfg.DataDir)
	cfg.PageSize = section.Key("page_size").MustInt(cfg.PageSize)
	cfg.BufferPoolPages = section.Key("buffer_pool_pages").MustInt(cfg.BufferPoolPages)
	cfg.PageCacheBytes = section.Key("page_cache_bytes").MustInt64(cfg.PageCacheBytes)
}

func (cfg *Cfg) parseRedoCfg(section *ini.Section) {
	cfg.RedoLogDir = valueAsString(section, "redo_log_dir", cfg.RedoLogDir)
	cfg.RedoLogBufferSize = section.Key("buffer_size").MustInt(cfg.RedoLogBufferSize)
	cfg.RedoFlushInterval = section.Key("flush_interval").MustDuration(cfg.RedoFlushInterval)
	cfg.RedoCompression = strings.ToLower(valueAsString(section, "compression", cfg.RedoCompression))
}

func (cfg *Cfg) parseVacuumCfg(section *ini.Section) {
	cfg.VacuumCostDelay = section.Key("cost_delay").MustDuration(cfg.VacuumCostDelay)
	cfg.VacuumCostLimit = section.Key("cost_limit").MustInt(cfg.VacuumCostLimit)
	cfg.VacuumCostPageHit = section.Key("cost_page_hit").MustInt(cfg.VacuumCostPageHit)
	cfg.VacuumCostPageDirty = section.Key("cost_page_dirty").MustInt(cfg.VacuumCostPageDirty)
	cfg.AutovacuumSchedule = valueAsString(section, "schedule", cfg.AutovacuumSchedule)
	cfg.LocalIndex = section.Key("local").MustBool(cfg.LocalIndex)
}

func (cfg *Cfg) validate() error {
	if cfg.PageSize < 512 || cfg.PageSize&(cfg.PageSize-1) != 0 {
		return errors.Errorf("storage.page_size must be a power of two >= 512, got %d", cfg.PageSize)
	}
	switch cfg.RedoCompression {
	case "none", "snappy", "lz4":
	default:
		return errors.Errorf("redo.compression must be none, snappy or lz4, got %q", cfg.RedoCompression)
	}
	if cfg.VacuumCostLimit <= 0 {
		return errors.Errorf("vacuum.cost_limit must be positive, got %d", cfg.VacuumCostLimit)
	}
	return nil
}
