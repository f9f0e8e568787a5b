package localdocker

import "testing"

func TestParseGPU(t *testing.T) {
	cases := []struct {
		in        string
		wantModel string
		wantCount int
		wantErr   bool
	}{
		{"", "", 0, false},
		{"A100:2", "A100", 2, false},
		{"H100", "H100", 1, false},
		{"A100:0", "", 0, true},
		{"A100:abc", "", 0, true},
	}
	for _, c := range cases {
		model, count, err := parseGPU(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseGPU(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseGPU(%q): unexpected error %v", c.in, err)
			continue
		}
		if model != c.wantModel || count != c.wantCount {
			t.Errorf("parseGPU(%q) = (%q, %d), want (%q, %d)", c.in, model, count, c.wantModel, c.wantCount)
		}
	}
}

func TestParseMemory(t *testing.T) {
	cases := map[string]int64{
		"512Mi": 512 << 20,
		"2Gi":   2 << 30,
		"1024":  1024,
	}
	for in, want := range cases {
		got, err := parseMemory(in)
		if err != nil {
			t.Fatalf("parseMemory(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("parseMemory(%q) = %d, want %d", in, got, want)
		}
	}
}
