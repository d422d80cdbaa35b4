package neighborhoods

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStaticProviderMatchesByAreaAndKeyword(t *testing.T) {
	provider := NewStaticProvider([]Note{
		{Area: "downtown", Summary: "临近商圈"},
		{Area: "suburbs", Summary: "学区充足", Keywords: []string{"郊区"}},
	}, 2)

	if notes := provider.Notes("Downtown East"); len(notes) != 1 || notes[0].Area != "downtown" {
		t.Fatalf("按区域名匹配失败: %+v", notes)
	}
	if notes := provider.Notes("城西郊区"); len(notes) != 1 || notes[0].Area != "suburbs" {
		t.Fatalf("按关键词匹配失败: %+v", notes)
	}
	if notes := provider.Notes("midtown"); len(notes) != 0 {
		t.Fatalf("不相关地点不应命中: %+v", notes)
	}
	if notes := provider.Notes(""); len(notes) != 0 {
		t.Fatalf("空地点不应命中: %+v", notes)
	}
}

func TestStaticProviderHonorsMaxResults(t *testing.T) {
	provider := NewStaticProvider([]Note{
		{Area: "river"},
		{Area: "riverside"},
		{Area: "riverfront"},
	}, 2)

	if notes := provider.Notes("riverside riverfront river"); len(notes) != 2 {
		t.Fatalf("期望截断到 2 条, 实际 %d", len(notes))
	}
}

func TestLoadStaticProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.json")
	content := `[{"area":"downtown","summary":"噪音偏高","keywords":["city center"]}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}

	provider, err := LoadStaticProvider(path, 0)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if notes := provider.Notes("city center"); len(notes) != 1 || notes[0].Summary != "噪音偏高" {
		t.Fatalf("unexpected notes: %+v", notes)
	}

	if _, err := LoadStaticProvider(filepath.Join(t.TempDir(), "missing.json"), 0); err == nil {
		t.Fatalf("缺失文件应报错")
	}
}
