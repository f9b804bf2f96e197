package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// ErrCodeInvalid 表示配置文件/环境变量/参数无法解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeRootNotFound 表示实验根目录不存在。
	ErrCodeRootNotFound = "root_not_found"
	// ErrCodeRootNotDir 表示实验根目录存在但不是目录。
	ErrCodeRootNotDir = "root_not_dir"
)

const (
	// FileName 是 <root> 下的可选配置文件。
	FileName = "nvisgen.json"
	// DefaultPort 同时用于 --serve 与打印出的手动启动说明。
	DefaultPort = 8999
)

// 环境变量（也可写在 cwd/.env 中）。
const (
	EnvPort   = "NVISGEN_PORT"
	EnvBind   = "NVISGEN_BIND"
	EnvOpen   = "NVISGEN_OPEN"
	EnvScript = "NVISGEN_SCRIPT"
)

// CLIArgs 保留“是否显式指定”的信息，保证覆盖优先级可实现：
// 例如 --open=false 必须能覆盖 open=true。
type CLIArgs struct {
	Root string

	Serve    bool
	ServeSet bool

	Port    int
	PortSet bool

	Bind    string
	BindSet bool

	Open    bool
	OpenSet bool

	Script    string
	ScriptSet bool
}

// FileConfig 对应 <root>/nvisgen.json 的解析结构。
type FileConfig struct {
	Serve  *bool   `json:"serve"`
	Port   *int    `json:"port"`
	Bind   *string `json:"bind"`
	Open   *bool   `json:"open"`
	Script string  `json:"script"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置。
type EffectiveConfig struct {
	Root string

	Serve bool
	Port  int
	Bind  string
	Open  bool

	// Script 为空表示使用内置 nvis.js；否则为 clean + absolute 路径。
	Script string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeRootNotFound:
		return fmt.Sprintf("%s：实验目录不存在 %q", e.Code, e.Path)
	case ErrCodeRootNotDir:
		return fmt.Sprintf("%s：%q 不是目录", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：%q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：%q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 校验 root，并把 CLI / 环境变量 / 配置文件 / 默认值合并为最终配置。
//
// 覆盖优先级（固定，逐字段）：CLI > 环境变量（含 cwd/.env）> <root>/nvisgen.json > 默认值
//
// 相对路径：CLI 与环境变量中的 script 相对 cwd；配置文件中的 script 相对 root。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	if strings.TrimSpace(cli.Root) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: "", Err: errors.New("缺少实验目录参数")}
	}
	root := absCleanFrom(cwdAbs, cli.Root)
	fi, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return EffectiveConfig{}, &Error{Code: ErrCodeRootNotFound, Path: root, Err: err}
		}
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: root, Err: err}
	}
	if !fi.IsDir() {
		return EffectiveConfig{}, &Error{Code: ErrCodeRootNotDir, Path: root}
	}

	cfgPath := filepath.Join(root, FileName)
	fc, _, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	env, err := readEnv(filepath.Join(cwdAbs, ".env"))
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: filepath.Join(cwdAbs, ".env"), Err: err}
	}

	return merge(root, cwdAbs, cli, env, fc, cfgPath)
}

// envConfig 是从环境变量解析出的覆盖项（nil/空串表示未设置）。
type envConfig struct {
	Port   *int
	Bind   *string
	Open   *bool
	Script string
}

// readEnv 先加载 dotenv（不存在不报错，且不覆盖已有环境变量），再读取 NVISGEN_*。
func readEnv(dotenvPath string) (envConfig, error) {
	if _, err := os.Stat(dotenvPath); err == nil {
		if err := godotenv.Load(dotenvPath); err != nil {
			return envConfig{}, err
		}
	}

	var ec envConfig
	if v, ok := os.LookupEnv(EnvPort); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return envConfig{}, fmt.Errorf("%s 不是整数：%q", EnvPort, v)
		}
		ec.Port = &n
	}
	if v, ok := os.LookupEnv(EnvBind); ok {
		v = strings.TrimSpace(v)
		ec.Bind = &v
	}
	if v, ok := os.LookupEnv(EnvOpen); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return envConfig{}, fmt.Errorf("%s 只能是 true 或 false，实际是 %q", EnvOpen, v)
		}
		ec.Open = &b
	}
	ec.Script = strings.TrimSpace(os.Getenv(EnvScript))
	return ec, nil
}

func merge(root, cwdAbs string, cli CLIArgs, env envConfig, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	eff := EffectiveConfig{
		Root: root,
		Port: DefaultPort,
		Open: true,
	}

	// serve：CLI > config > 默认 false（不提供环境变量，避免意外常驻）
	if cli.ServeSet {
		eff.Serve = cli.Serve
	} else if fc.Serve != nil {
		eff.Serve = *fc.Serve
	}

	switch {
	case cli.PortSet:
		eff.Port = cli.Port
	case env.Port != nil:
		eff.Port = *env.Port
	case fc.Port != nil:
		eff.Port = *fc.Port
	}
	if err := validatePort(eff.Port); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	switch {
	case cli.BindSet:
		eff.Bind = strings.TrimSpace(cli.Bind)
	case env.Bind != nil:
		eff.Bind = *env.Bind
	case fc.Bind != nil:
		eff.Bind = strings.TrimSpace(*fc.Bind)
	}

	switch {
	case cli.OpenSet:
		eff.Open = cli.Open
	case env.Open != nil:
		eff.Open = *env.Open
	case fc.Open != nil:
		eff.Open = *fc.Open
	}

	switch {
	case cli.ScriptSet && strings.TrimSpace(cli.Script) != "":
		eff.Script = absCleanFrom(cwdAbs, cli.Script)
	case env.Script != "":
		eff.Script = absCleanFrom(cwdAbs, env.Script)
	case strings.TrimSpace(fc.Script) != "":
		eff.Script = absCleanFrom(root, fc.Script)
	}

	return eff, nil
}

func validatePort(p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("port 必须在 1..65535 之间，实际是 %d", p)
	}
	return nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
