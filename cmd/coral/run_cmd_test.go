package main

import (
	"testing"

	"github.com/coralrun/coral/internal/coralspec"
)

func TestParseEnvPairs(t *testing.T) {
	cases := []struct {
		name    string
		in      []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", in: nil, want: map[string]string{}},
		{name: "single", in: []string{"FOO=bar"}, want: map[string]string{"FOO": "bar"}},
		{name: "value contains equals", in: []string{"FOO=bar=baz"}, want: map[string]string{"FOO": "bar=baz"}},
		{name: "missing equals", in: []string{"FOO"}, wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseEnvPairs(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseEnvPairs(%v) = %v, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseEnvPairs(%v) unexpected error: %v", tc.in, err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("parseEnvPairs(%v) = %v, want %v", tc.in, got, tc.want)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Fatalf("parseEnvPairs(%v)[%q] = %q, want %q", tc.in, k, got[k], v)
				}
			}
		})
	}
}

func TestParseSourceRoots(t *testing.T) {
	cases := []struct {
		name    string
		in      []string
		want    []coralspec.LocalSource
		wantErr bool
	}{
		{
			name: "bare name defaults to sync",
			in:   []string{"app"},
			want: []coralspec.LocalSource{{Name: "app", Mode: coralspec.SourceSync}},
		},
		{
			name: "explicit copy mode",
			in:   []string{"vendor:copy"},
			want: []coralspec.LocalSource{{Name: "vendor", Mode: coralspec.SourceCopy}},
		},
		{
			name:    "invalid mode",
			in:      []string{"app:bogus"},
			wantErr: true,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseSourceRoots(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseSourceRoots(%v) = %v, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSourceRoots(%v) unexpected error: %v", tc.in, err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("parseSourceRoots(%v) = %v, want %v", tc.in, got, tc.want)
			}
			for i := range tc.want {
				if got[i].Name != tc.want[i].Name || got[i].Mode != tc.want[i].Mode {
					t.Fatalf("parseSourceRoots(%v)[%d] = %+v, want %+v", tc.in, i, got[i], tc.want[i])
				}
			}
		})
	}
}
