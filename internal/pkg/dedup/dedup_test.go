package dedup

import (
	"os"
	"path/filepath"
	"testing"
)

func TestUniqueKey(t *testing.T) {
	tests := []struct {
		name string
		link string
		want string
	}{
		{
			name: "strips tracking params after first ampersand",
			link: "https://www.goofish.com/item?id=123456&spm=a21ybx.search",
			want: "https://www.goofish.com/item?id=123456",
		},
		{
			name: "no ampersand returns link unchanged",
			link: "https://www.goofish.com/item?id=123456",
			want: "https://www.goofish.com/item?id=123456",
		},
		{
			name: "empty link",
			link: "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UniqueKey(tt.link); got != tt.want {
				t.Fatalf("UniqueKey(%q) = %q, want %q", tt.link, got, tt.want)
			}
		})
	}
}

func TestDeduplicator_IsDuplicate(t *testing.T) {
	d := NewDeduplicator(nil)

	link := "https://www.goofish.com/item?id=99&spm=abc"
	if d.IsDuplicate(link) {
		t.Fatalf("expected first sighting to be non-duplicate")
	}
	d.Add(link)
	if !d.IsDuplicate(link) {
		t.Fatalf("expected second sighting to be duplicate")
	}
	// 同一商品不同追踪参数也应判重
	if !d.IsDuplicate("https://www.goofish.com/item?id=99&spm=other") {
		t.Fatalf("expected same item with different tracking params to be duplicate")
	}
}

func TestDeduplicator_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.jsonl")

	content := `{"item_info":{"item_link":"https://www.goofish.com/item?id=1&spm=x"}}
not json at all
{"other":"no item link"}
{"item_info":{"item_link":"https://www.goofish.com/item?id=2"}}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	d := NewDeduplicator(nil)
	loaded, err := d.LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if loaded != 2 {
		t.Fatalf("loaded = %d, want 2", loaded)
	}
	if !d.IsDuplicate("https://www.goofish.com/item?id=1&spm=y") {
		t.Fatalf("expected item 1 to be known")
	}
	if !d.IsDuplicate("https://www.goofish.com/item?id=2") {
		t.Fatalf("expected item 2 to be known")
	}
	if d.IsDuplicate("https://www.goofish.com/item?id=3") {
		t.Fatalf("expected item 3 to be unknown")
	}
}

func TestDeduplicator_LoadFromFile_Missing(t *testing.T) {
	d := NewDeduplicator(nil)
	loaded, err := d.LoadFromFile(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if loaded != 0 {
		t.Fatalf("loaded = %d, want 0", loaded)
	}
}
