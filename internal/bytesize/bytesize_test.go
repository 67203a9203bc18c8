package bytesize

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  ByteSize
	}{
		{"0", 0},
		{"1024", 1024},
		{"1Ki", KiB},
		{"1KiB", KiB},
		{"500Mi", 500 * MiB},
		{"1Gi", GiB},
		{"16Gi", 16 * GiB},
		{"2Ti", 2 * TiB},
		{"1KB", KB},
		{"100MB", 100 * MB},
		{"1GB", GB},
		{"1.5Ki", ByteSize(1536)},
		{"  8 Ki ", 8 * KiB},
		{"10mi", 10 * MiB}, // units are case-insensitive
		{"42B", 42},
	}

	for _, tt := range tests {
		got, err := Parse(tt.input)
		if err != nil {
			t.Errorf("Parse(%q) error = %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{"", "abc", "12XB", "-5", "1.2.3Ki"} {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) expected error", input)
		}
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("10Mi")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if b != 10*MiB {
		t.Errorf("UnmarshalText(10Mi) = %d, want %d", b, 10*MiB)
	}

	if err := b.UnmarshalText([]byte("nonsense")); err == nil {
		t.Error("UnmarshalText(nonsense) expected error")
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		size ByteSize
		want string
	}{
		{0, "0"},
		{512, "512"},
		{KiB, "1Ki"},
		{16 * GiB, "16Gi"},
		{10 * MiB, "10Mi"},
		{3 * TiB, "3Ti"},
		{KiB + 1, "1025"}, // uneven sizes fall back to plain bytes
	}

	for _, tt := range tests {
		if got := tt.size.String(); got != tt.want {
			t.Errorf("ByteSize(%d).String() = %q, want %q", tt.size, got, tt.want)
		}
	}
}

func TestStringParseRoundtrip(t *testing.T) {
	for _, size := range []ByteSize{0, 1, 8 * KiB, 10 * MiB, 16 * GiB} {
		parsed, err := Parse(size.String())
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", size.String(), err)
		}
		if parsed != size {
			t.Errorf("roundtrip %d -> %q -> %d", size, size.String(), parsed)
		}
	}
}
