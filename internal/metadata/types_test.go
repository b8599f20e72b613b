package metadata

import (
	"encoding/json"
	"testing"
)

func TestFlexIntUnmarshal(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValue int64
		wantValid bool
		wantFail  bool
	}{
		{name: "number", input: `8388608`, wantValue: 8388608, wantValid: true},
		{name: "numeric string", input: `"8388608"`, wantValue: 8388608, wantValid: true},
		{name: "zero", input: `0`, wantValue: 0, wantValid: true},
		{name: "null", input: `null`, wantValid: false},
		{name: "empty string", input: `""`, wantValid: false},
		{name: "whitespace string", input: `"  "`, wantValid: false},
		{name: "fractional mtime truncated", input: `"1624380230.7"`, wantValue: 1624380230, wantValid: true},
		{name: "fractional number truncated", input: `1624380230.7`, wantValue: 1624380230, wantValid: true},
		{name: "negative rejected", input: `-5`, wantFail: true},
		{name: "negative string rejected", input: `"-5"`, wantFail: true},
		{name: "garbage rejected", input: `"12abc"`, wantFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexInt
			err := json.Unmarshal([]byte(tt.input), &f)
			if tt.wantFail {
				if err == nil {
					t.Fatalf("Unmarshal(%s) = %+v, want error", tt.input, f)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal(%s) error: %v", tt.input, err)
			}
			if f.Valid != tt.wantValid || f.Value != tt.wantValue {
				t.Errorf("Unmarshal(%s) = {%d %t}, want {%d %t}",
					tt.input, f.Value, f.Valid, tt.wantValue, tt.wantValid)
			}
		})
	}
}

func TestFlexIntMarshal(t *testing.T) {
	absent, err := json.Marshal(FlexInt{})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(absent) != "null" {
		t.Errorf("absent FlexInt = %s, want null", absent)
	}

	present, err := json.Marshal(FlexInt{Value: 42, Valid: true})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(present) != "42" {
		t.Errorf("present FlexInt = %s, want 42", present)
	}
}

func TestFileEntryIsXML(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"item_meta.xml", true},
		{"ITEM_FILES.XML", true},
		{"track01.mp3", false},
		{"xml_notes.txt", false},
	}
	for _, tt := range tests {
		f := FileEntry{Name: tt.name}
		if got := f.IsXML(); got != tt.want {
			t.Errorf("IsXML(%q) = %t, want %t", tt.name, got, tt.want)
		}
	}
}

func TestServers(t *testing.T) {
	tests := []struct {
		name string
		meta ItemMetadata
		want []string
	}{
		{
			name: "preferred server leads",
			meta: ItemMetadata{Server: "ia800100.us.archive.org", WorkableServers: []string{"ia600100.us.archive.org"}},
			want: []string{"ia800100.us.archive.org", "ia600100.us.archive.org"},
		},
		{
			name: "preferred already listed",
			meta: ItemMetadata{Server: "ia1.example.org", WorkableServers: []string{"ia1.example.org", "ia2.example.org"}},
			want: []string{"ia1.example.org", "ia2.example.org"},
		},
		{
			name: "no preferred server",
			meta: ItemMetadata{WorkableServers: []string{"ia1.example.org"}},
			want: []string{"ia1.example.org"},
		},
		{
			name: "no servers at all",
			meta: ItemMetadata{},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.meta.Servers()
			if len(got) != len(tt.want) {
				t.Fatalf("Servers() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Servers() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestItemMetadataDecode(t *testing.T) {
	doc := `{
		"created": 1624380230,
		"dir": "/5/items/commute_by_bike",
		"server": "ia800100.us.archive.org",
		"workable_servers": ["ia800100.us.archive.org", "ia600100.us.archive.org"],
		"item_size": "384293917",
		"files_count": 3,
		"files": [
			{"name": "track01.mp3", "source": "original", "format": "VBR MP3", "size": "8388608", "md5": "0cc175b9c0f1b6a831c399e269772661"},
			{"name": "track01.png", "source": "derivative", "format": "PNG", "size": 1024},
			{"name": "commute_by_bike_meta.xml", "source": "metadata", "format": "Metadata", "mtime": "1624380230.5"}
		],
		"metadata": {"title": "Commute by Bike", "subject": ["cycling", "commuting"]}
	}`

	var meta ItemMetadata
	if err := json.Unmarshal([]byte(doc), &meta); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if meta.Dir != "/5/items/commute_by_bike" {
		t.Errorf("Dir = %q", meta.Dir)
	}
	if meta.ItemSize.Int(0) != 384293917 {
		t.Errorf("ItemSize = %d, want 384293917", meta.ItemSize.Int(0))
	}
	if len(meta.Files) != 3 {
		t.Fatalf("Files count = %d, want 3", len(meta.Files))
	}
	if meta.Files[0].Size.Int(0) != 8388608 {
		t.Errorf("string size = %d, want 8388608", meta.Files[0].Size.Int(0))
	}
	if meta.Files[2].Mtime.Int(0) != 1624380230 {
		t.Errorf("fractional mtime = %d, want 1624380230", meta.Files[2].Mtime.Int(0))
	}
	if got := meta.Field("title"); got != "Commute by Bike" {
		t.Errorf("Field(title) = %q", got)
	}
	if got := meta.Field("subject"); got != "cycling" {
		t.Errorf("Field(subject) = %q, want first array element", got)
	}
	if got := meta.Field("missing"); got != "" {
		t.Errorf("Field(missing) = %q, want empty", got)
	}
}
