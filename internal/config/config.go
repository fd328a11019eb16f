// Package config 全局配置加载与管理。
//
// 字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充。可选的 TOML 文件 (见 LoadFile) 在环境变量
// 之上覆盖同名字段，供 glopd -config 使用。
package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/glop/glop/pkg/util"
)

// Config 是 glopd 的全局配置，字段名与环境变量一一对应。
type Config struct {
	// 控制 socket (gloprpc)
	ControlAddr    string `env:"GLOP_CONTROL_ADDR" default:"127.0.0.1:7890" toml:"control_addr"`
	ControlBindMax int    `env:"GLOP_CONTROL_BIND_RETRIES" default:"3" min:"0" toml:"control_bind_retries"`

	// Admin HTTP (glopadmin)
	AdminAddr string `env:"GLOP_ADMIN_ADDR" default:"127.0.0.1:7891" toml:"admin_addr"`

	// Agent 运行时
	MailboxCapacity   int `env:"GLOP_MAILBOX_CAPACITY" default:"64" min:"1" toml:"mailbox_capacity"`
	ScriptTimeoutSec  int `env:"GLOP_SCRIPT_TIMEOUT_SEC" default:"30" min:"1" toml:"script_timeout_sec"`
	ScriptOutputLimit int `env:"GLOP_SCRIPT_OUTPUT_LIMIT" default:"65536" min:"1024" toml:"script_output_limit"`

	// 源文件热重载 (glopsupervisor/watch.go)，默认关闭，
	// 由 glopd -watch-dir 或下列配置显式开启。
	WatchEnabled bool   `env:"GLOP_WATCH_ENABLED" default:"false" toml:"watch_enabled"`
	SourceDir    string `env:"GLOP_SOURCE_DIR" default:"." toml:"source_dir"`

	// 日志
	LogLevel string `env:"GLOP_LOG_LEVEL" default:"production" toml:"log_level"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}

// LoadFile overlays path's TOML contents onto an already
// environment-loaded Config; fields absent from the file are left
// untouched. A missing file is not an error — the override is
// optional.
func LoadFile(cfg *Config, path string) error {
	_, err := toml.DecodeFile(path, cfg)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
