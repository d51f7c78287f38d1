package pow

import "testing"

func TestSeedHeight(t *testing.T) {
	tests := []struct {
		height uint64
		want   uint64
	}{
		{0, 0},
		{2112, 0},
		{2113, 2048},
		{4096, 2048},
		{4161, 4096},
		{3000000, 2998272},
	}

	for _, tt := range tests {
		if got := SeedHeight(tt.height); got != tt.want {
			t.Errorf("SeedHeight(%d) = %d, want %d", tt.height, got, tt.want)
		}
	}
}

func TestSeedHeights(t *testing.T) {
	cur, next := SeedHeights(4096)
	if cur != 2048 {
		t.Errorf("current seed height = %d, want 2048", cur)
	}
	if next < cur {
		t.Errorf("next seed height %d below current %d", next, cur)
	}
}
