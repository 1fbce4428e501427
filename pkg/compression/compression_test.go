package compression

import (
	"bytes"
	"strings"
	"testing"
)

var sample = []byte(strings.Repeat("std::vector<int>::push_back 4096\n", 64))

func TestCompress_RoundTrip(t *testing.T) {
	for _, typ := range []Type{TypeGzip, TypeZstd, TypeNone} {
		for _, level := range []Level{LevelFastest, LevelDefault, LevelBest} {
			compressed, err := Compress(sample, typ, level)
			if err != nil {
				t.Fatalf("%s/%d: Compress failed: %v", typ, level, err)
			}
			if typ != TypeNone && len(compressed) >= len(sample) {
				t.Errorf("%s/%d: expected smaller output, got %d >= %d", typ, level, len(compressed), len(sample))
			}
			if got := DetectType(compressed); got != typ {
				t.Errorf("%s/%d: DetectType = %s", typ, level, got)
			}

			out, err := Decompress(compressed, 0)
			if err != nil {
				t.Fatalf("%s/%d: Decompress failed: %v", typ, level, err)
			}
			if !bytes.Equal(sample, out) {
				t.Errorf("%s/%d: decompressed data doesn't match original", typ, level)
			}
		}
	}
}

func TestDecompress_Limit(t *testing.T) {
	compressed, err := Compress(sample, TypeZstd, LevelDefault)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if _, err := Decompress(compressed, 10); err == nil {
		t.Error("expected limit error")
	}
	if _, err := Decompress(compressed, int64(len(sample))); err != nil {
		t.Errorf("unexpected error at exact limit: %v", err)
	}
}

func TestDecompress_Corrupt(t *testing.T) {
	if _, err := Decompress([]byte{0x1f, 0x8b, 0x00}, 0); err == nil {
		t.Error("expected error for corrupt gzip")
	}
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		data []byte
		want Type
	}{
		{[]byte{0x28, 0xb5, 0x2f, 0xfd, 0x00}, TypeZstd},
		{[]byte{0x1f, 0x8b}, TypeGzip},
		{[]byte{0x7f, 'E', 'L', 'F'}, TypeNone},
		{nil, TypeNone},
	}
	for _, tt := range tests {
		if got := DetectType(tt.data); got != tt.want {
			t.Errorf("DetectType(%x) = %s, want %s", tt.data, got, tt.want)
		}
	}
}

func TestParseType(t *testing.T) {
	tests := map[string]Type{"": TypeNone, "none": TypeNone, "GZIP": TypeGzip, "zst": TypeZstd}
	for in, want := range tests {
		got, err := ParseType(in)
		if err != nil || got != want {
			t.Errorf("ParseType(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := ParseType("lz4"); err == nil {
		t.Error("expected error for lz4")
	}
}

func TestType_Extension(t *testing.T) {
	if TypeGzip.Extension() != ".gz" || TypeZstd.Extension() != ".zst" || TypeNone.Extension() != "" {
		t.Error("unexpected extensions")
	}
}

func TestNewWriter_Unknown(t *testing.T) {
	if _, err := NewWriter(&bytes.Buffer{}, Type("lz4"), LevelDefault); err == nil {
		t.Error("expected error for unknown type")
	}
}
