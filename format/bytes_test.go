package format

import "testing"

func TestHumanBytes(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{999, "999 B"},
		{1000, "1 KB"},
		{1500, "1.5 KB"},
		{180_000_000, "180 MB"},
		{2_460_000_000, "2.5 GB"},
		{12_000_000_000, "12 GB"},
		{3 * TeraByte, "3 TB"},
	}

	for _, tt := range cases {
		t.Run(tt.want, func(t *testing.T) {
			if got := HumanBytes(tt.in); got != tt.want {
				t.Errorf("HumanBytes(%d) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHumanBytes2(t *testing.T) {
	cases := []struct {
		in   uint64
		want string
	}{
		{512, "512 B"},
		{1536, "1.5 KiB"},
		{4 << 20, "4.0 MiB"},
		{5 << 30, "5.0 GiB"},
	}

	for _, tt := range cases {
		t.Run(tt.want, func(t *testing.T) {
			if got := HumanBytes2(tt.in); got != tt.want {
				t.Errorf("HumanBytes2(%d) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
