package neighborhoods

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Provider 定义街区情报检索的通用接口，用于丰富匹配回复的文案。
type Provider interface {
	Notes(location string) []Note
}

// Note 描述一个街区的背景信息。
type Note struct {
	Area     string   `json:"area"`
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// StaticProvider 通过加载 JSON 文件提供静态街区情报。
type StaticProvider struct {
	items      []Note
	maxResults int
}

// NewStaticProvider 创建静态街区情报实例。
func NewStaticProvider(items []Note, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 2
	}
	return &StaticProvider{items: items, maxResults: maxResults}
}

// LoadStaticProvider 从 JSON 文件加载街区情报条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("街区情报文件路径不能为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取街区情报失败: %w", err)
	}

	var items []Note
	if err := json.Unmarshal(content, &items); err != nil {
		return nil, fmt.Errorf("解析街区情报失败: %w", err)
	}
	return NewStaticProvider(items, maxResults), nil
}

// Notes 返回与房源地点相关的街区情报，按配置上限截断。
func (p *StaticProvider) Notes(location string) []Note {
	if p == nil || strings.TrimSpace(location) == "" {
		return nil
	}
	lowered := strings.ToLower(location)

	var matched []Note
	for _, item := range p.items {
		if len(matched) >= p.maxResults {
			break
		}
		if item.Area != "" && strings.Contains(lowered, strings.ToLower(item.Area)) {
			matched = append(matched, item)
			continue
		}
		for _, keyword := range item.Keywords {
			if keyword != "" && strings.Contains(lowered, strings.ToLower(keyword)) {
				matched = append(matched, item)
				break
			}
		}
	}
	return matched
}
