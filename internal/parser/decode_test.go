package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/adrecon/internal/profile"
)

func TestPyLiteralToJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{'a': 'b'}`, `{"a": "b"}`},
		{`{'ok': True, 'no': False, 'none': None}`, `{"ok": true, "no": false, "none": null}`},
		{`{'say': 'he said "hi"'}`, `{"say": "he said \"hi\""}`},
		{`{'it': 'it\'s'}`, `{"it": "it's"}`},
		{`{"already": "json"}`, `{"already": "json"}`},
		{`{'n': 5, 'l': [1, 'x']}`, `{"n": 5, "l": [1, "x"]}`},
		{`{'True': 'True'}`, `{"True": "True"}`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, pyLiteralToJSON(tt.in))
		})
	}
}

func TestDecodeField(t *testing.T) {
	got, err := decodeField(profile.FormatJSON, `{"error": {"message": "boom", "code": 190}}`, "error.code")
	require.NoError(t, err)
	assert.Equal(t, "190", got)

	got, err = decodeField(profile.FormatJSON, `{"b": 1, "a": [true]}`, "")
	require.NoError(t, err)
	assert.Equal(t, `{"a":[true],"b":1}`, got)

	got, err = decodeField(profile.FormatPyDict, `{'on_off': 'ON'}`, "on_off")
	require.NoError(t, err)
	assert.Equal(t, "ON", got)

	got, err = decodeField(profile.FormatJSON, `{"x": null}`, "x")
	require.NoError(t, err)
	assert.Equal(t, "", got)

	_, err = decodeField(profile.FormatJSON, `{"x": 1}`, "x.y")
	assert.Error(t, err)

	_, err = decodeField(profile.FormatJSON, `{"x": 1}`, "missing")
	assert.Error(t, err)

	_, err = decodeField(profile.FormatJSON, `{"x": 1} trailing`, "")
	assert.Error(t, err)

	_, err = decodeField(profile.Format("xml"), `<x/>`, "")
	assert.Error(t, err)
}

func TestMapMemory(t *testing.T) {
	m := MapMemory{}
	_, ok := m.Recall("page_name")
	assert.False(t, ok)

	m.Remember("page_name", "A")
	m.Remember("page_name", "B")
	v, ok := m.Recall("page_name")
	assert.True(t, ok)
	assert.Equal(t, "B", v)
}
