package domain

const (
	// MaxImagesPerStream 是每个 stream 写入 manifest 的图片上限（固定策略，不提供配置项）。
	MaxImagesPerStream = 10

	ConfigFileName = "config.json"
	IndexFileName  = "index.html"
	ScriptFileName = "nvis.js"
)

// Manifest 对应 <root>/config.json，由浏览器端的 nvis.js 读取。
//
// 每次运行都从零构建，不与旧文件合并。
type Manifest struct {
	Name    string   `json:"name"`
	Streams []Stream `json:"streams"`
}

// Stream 是一个实验子目录的图片集合。
//
// 不变量：
// - Window 恒为 true（viewer 的展示提示）
// - Images 为相对 root 的 '/' 分隔路径，最多 MaxImagesPerStream 个，且不为 nil（JSON 输出 []）
type Stream struct {
	Name   string   `json:"name"`
	Window bool     `json:"window"`
	Images []string `json:"images"`
}

// NewStream 按不变量构造 Stream：截断到上限，并把 nil 规范化为空切片。
func NewStream(name string, images []string) Stream {
	if len(images) > MaxImagesPerStream {
		images = images[:MaxImagesPerStream]
	}
	out := make([]string, len(images))
	copy(out, images)
	return Stream{
		Name:   name,
		Window: true,
		Images: out,
	}
}
