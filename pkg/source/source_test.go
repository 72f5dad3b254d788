package source

import (
	"fmt"
	"testing"
)

func TestParseMetadata(t *testing.T) {
	tests := []struct {
		meta       string
		wantTS     string
		wantSender string
	}{
		{meta: "[08:56, 08/08/2025] Fulano: ", wantTS: "08:56, 08/08/2025", wantSender: "Fulano"},
		{meta: "[08:56, 08/08/2025] +55 11 91234-5678: ", wantTS: "08:56, 08/08/2025", wantSender: "+55 11 91234-5678"},
		{meta: "[08:56, 08/08/2025]", wantTS: "08:56, 08/08/2025", wantSender: UnknownSender},
		{meta: "[08:56, 08/08/2025] : ", wantTS: "08:56, 08/08/2025", wantSender: UnknownSender},
		{meta: "sent 08:56, 08/08/2025 by someone", wantTS: "08:56, 08/08/2025", wantSender: UnknownSender},
		{meta: "garbage", wantTS: "", wantSender: UnknownSender},
		{meta: "", wantTS: "", wantSender: UnknownSender},
	}
	for _, tc := range tests {
		ts, sender := ParseMetadata(tc.meta)
		if ts != tc.wantTS || sender != tc.wantSender {
			t.Fatalf("ParseMetadata(%q) = (%q, %q), want (%q, %q)", tc.meta, ts, sender, tc.wantTS, tc.wantSender)
		}
	}
}

func TestMaskSender(t *testing.T) {
	tests := map[string]string{
		"Fulano de Tal":     "*** Tal",
		"Ana":               "***Ana",
		"":                  UnknownSender,
		UnknownSender:       UnknownSender,
		"+55 11 91234-5678": "***5678",
		"João São":          "*** São",
	}
	for in, want := range tests {
		if got := MaskSender(in); got != want {
			t.Fatalf("MaskSender(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsUnavailable(t *testing.T) {
	if !IsUnavailable(fmt.Errorf("fetch snapshot: %w", ErrUnavailable)) {
		t.Fatalf("expected wrapped ErrUnavailable to be detected")
	}
	if IsUnavailable(fmt.Errorf("boom")) {
		t.Fatalf("expected plain error not to be transient")
	}
}
