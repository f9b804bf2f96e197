package domain

// Output 描述一次生成的产物位置（均为 clean + absolute）。
type Output struct {
	Root       string
	ConfigPath string
	IndexPath  string
	ScriptPath string

	Manifest Manifest
}
