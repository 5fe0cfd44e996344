// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolcall

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Aliases(t *testing.T) {
	for name, kind := range aliases {
		var text string
		var want Invocation
		switch kind {
		case KindWebSearch:
			text = fmt.Sprintf(`{"name":%q,"query":"golang"}`, name)
			want = WebSearch{Query: "golang"}
		case KindCurrentDateTime:
			text = fmt.Sprintf(`{"name":%q}`, name)
			want = CurrentDateTime{}
		}

		for _, variant := range []string{name, strings.ToUpper(name), strings.ToUpper(name[:1]) + name[1:]} {
			variantText := strings.Replace(text, name, variant, 1)
			got, ok := Resolve(variantText)
			require.True(t, ok, "Resolve(%s) failed", variantText)
			assert.Equal(t, want, got, "Resolve(%s)", variantText)
			assert.Equal(t, kind, got.Kind())
		}
	}
}

func TestResolve_NameNormalization(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"GET-CURRENT-TIME", KindCurrentDateTime},
		{"Current Time", KindCurrentDateTime},
		{"  web_search  ", KindWebSearch},
		{"ＷＥＢ＿ＳＥＡＲＣＨ", KindWebSearch}, // fullwidth forms fold under NFKC
	}

	for _, tt := range tests {
		kind, ok := KindForName(tt.name)
		if !ok || kind != tt.want {
			t.Errorf("KindForName(%q) = %v, %v; want %v", tt.name, kind, ok, tt.want)
		}
	}
}

func TestResolve_Rejects(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"invalid json", `{"name":"web_search",`},
		{"not an object", `["web_search"]`},
		{"missing name", `{"query":"weather"}`},
		{"empty name", `{"name":"","query":"weather"}`},
		{"numeric name", `{"name":42}`},
		{"unknown name", `{"name":"send_email","query":"hi"}`},
		{"search without query", `{"name":"web_search"}`},
		{"search with null query", `{"name":"web_search","query":null}`},
		{"search with blank query", `{"name":"web_search","query":"   "}`},
		{"search with numeric query", `{"name":"web_search","query":7}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, ok := Resolve(tt.text)
			assert.False(t, ok)
			assert.Nil(t, inv)
		})
	}
}

func TestResolve_TrimsQuery(t *testing.T) {
	inv, ok := Resolve(`{"name":"search","query":"  rust vs go \n"}`)
	require.True(t, ok)
	assert.Equal(t, WebSearch{Query: "rust vs go"}, inv)
}

func TestResolve_IgnoresExtraFields(t *testing.T) {
	inv, ok := Resolve(`{"name":"datetime","query":"ignored","timezone":"UTC"}`)
	require.True(t, ok)
	assert.Equal(t, CurrentDateTime{}, inv)
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload(`{"name":"web_search","query":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, "web_search", p.Name)
	require.NotNil(t, p.Query)
	assert.Equal(t, "x", *p.Query)

	_, err = ParsePayload(`{"query":"x"}`)
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "web_search", KindWebSearch.String())
	assert.Equal(t, "get_current_datetime", KindCurrentDateTime.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
