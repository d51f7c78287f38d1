package pow

import "testing"

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		family  Family
		major   uint8
		want    Algo
		wantErr bool
	}{
		{name: "cn genesis", family: FamilyCryptoNote, major: 1, want: AlgoCNv0},
		{name: "cn v7 fork", family: FamilyCryptoNote, major: 7, want: AlgoCNv1},
		{name: "cn v8", family: FamilyCryptoNote, major: 8, want: AlgoCNv2},
		{name: "cn v9", family: FamilyCryptoNote, major: 9, want: AlgoCNv2},
		{name: "cn v10", family: FamilyCryptoNote, major: 10, want: AlgoCNR},
		{name: "cn v11", family: FamilyCryptoNote, major: 11, want: AlgoCNR},
		{name: "cn v12 randomx", family: FamilyCryptoNote, major: 12, want: AlgoRandomX},
		{name: "cn v16 randomx", family: FamilyCryptoNote, major: 16, want: AlgoRandomX},
		{name: "lite", family: FamilyCryptoNoteLite, major: 5, want: AlgoCNLite},
		{name: "heavy", family: FamilyCryptoNoteHeavy, major: 3, want: AlgoCNHeavy},
		{name: "unknown family", family: Family("kawpow"), major: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Lookup(tt.family, tt.major)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Lookup() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Lookup(%s, %d) = %s, want %s", tt.family, tt.major, got.WireName(), tt.want.WireName())
			}
		})
	}
}

func TestWireName(t *testing.T) {
	tests := []struct {
		algo Algo
		want string
	}{
		{AlgoCNv0, "cn/0"},
		{AlgoCNv1, "cn/1"},
		{AlgoCNv2, "cn/2"},
		{AlgoCNR, "cn/r"},
		{AlgoCNLite, "cn-lite/0"},
		{AlgoCNHeavy, "cn-heavy/0"},
		{AlgoRandomX, "rx/0"},
	}

	for _, tt := range tests {
		if got := tt.algo.WireName(); got != tt.want {
			t.Errorf("WireName() = %q, want %q", got, tt.want)
		}
	}
}

func TestUsesSeed(t *testing.T) {
	if !AlgoRandomX.UsesSeed() {
		t.Error("rx/0 must be seed-keyed")
	}
	if AlgoCNv2.UsesSeed() {
		t.Error("cn/2 must not be seed-keyed")
	}
}
