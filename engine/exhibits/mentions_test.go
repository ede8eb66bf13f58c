package exhibits

import "testing"

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"english alias", "Who painted the Mona Lisa?", []string{"mona_lisa"}},
		{"italian alias", "tell me about La Gioconda", []string{"mona_lisa"}},
		{"turkish alias", "Yıldızlı Gece ne zaman yapıldı?", []string{"starry_night"}},
		{"upper turkish alias", "YILDIZLI GECE nerede?", []string{"starry_night"}},
		{"upper english alias", "TELL ME ABOUT STARRY NIGHT", []string{"starry_night"}},
		{"upper alias with dotted capital", "İNCİ KÜPELİ KIZ kimin?", []string{"pearl_earring"}},
		{"two exhibits once each", "Compare the Mona Lisa with Starry Night. I love the Mona Lisa.",
			[]string{"mona_lisa", "starry_night"}},
		{"no mention", "What time does the museum close?", nil},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("Extract(%q) = %v, want ids %v", tt.text, got, tt.want)
			}
			for i, id := range tt.want {
				if got[i].ExhibitID != id {
					t.Errorf("mention %d = %s, want %s", i, got[i].ExhibitID, id)
				}
			}
		})
	}
}

func TestExtract_ConfidenceOnWordBoundaries(t *testing.T) {
	clean := Extract("I saw David yesterday")
	if len(clean) != 1 || clean[0].Confidence < 0.9 {
		t.Fatalf("bounded mention should score high: %v", clean)
	}
	embedded := Extract("harley davidson")
	if len(embedded) == 1 && embedded[0].Confidence >= 0.5 {
		t.Errorf("embedded span should score low: %v", embedded)
	}
}

func TestHasComparisonIntent(t *testing.T) {
	yes := []string{
		"Mona Lisa ile Yıldızlı Gece'yi karşılaştır",
		"BUNLARI KARŞILAŞTIR",
		"what is the difference between these",
		"WHAT IS THE DIFFERENCE?",
		"is this similar to the Scream?",
	}
	no := []string{
		"Mona Lisa kimin eseri?",
		"when was it painted",
	}
	for _, q := range yes {
		if !HasComparisonIntent(q) {
			t.Errorf("expected comparison intent in %q", q)
		}
	}
	for _, q := range no {
		if HasComparisonIntent(q) {
			t.Errorf("unexpected comparison intent in %q", q)
		}
	}
}

func TestParseCode(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"qr_01", "qr_01", false},
		{" QR_07 ", "qr_07", false},
		{"qr_7", "", true},
		{"qr_123", "", true},
		{"mona_lisa", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCode(tt.in)
		if tt.wantErr != (err != nil) {
			t.Errorf("ParseCode(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
