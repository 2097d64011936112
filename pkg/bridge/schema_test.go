package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAuthentication(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    *Authentication
		wantErr string
	}{
		{name: "null logs out", data: `null`},
		{name: "empty logs out", data: ``},
		{
			name: "with token",
			data: `{"baseUrl":"https://radar","userId":"u","projectId":"p","token":"abc"}`,
			want: &Authentication{BaseURL: "https://radar", UserID: "u", ProjectID: "p", Token: strPtr("abc")},
		},
		{
			name: "null token string is absent",
			data: `{"baseUrl":"b","userId":"u","projectId":"p","token":"null"}`,
			want: &Authentication{BaseURL: "b", UserID: "u", ProjectID: "p"},
		},
		{
			name: "empty token is absent",
			data: `{"baseUrl":"b","userId":"u","projectId":"p","token":""}`,
			want: &Authentication{BaseURL: "b", UserID: "u", ProjectID: "p"},
		},
		{name: "missing field", data: `{"baseUrl":"b","userId":"u"}`, wantErr: "projectId"},
		{name: "wrong type", data: `{"baseUrl":1,"userId":"u","projectId":"p"}`, wantErr: "validation errors"},
		{name: "not an object", data: `"token"`, wantErr: "validation errors"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAuthentication([]byte(tt.data))
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSettings(t *testing.T) {
	t.Run("scalar values become text", func(t *testing.T) {
		got, err := ParseSettings([]byte(`{"a":"x \"q\" é","b":12.5,"c":false,"d":null}`))
		require.NoError(t, err)

		require.NotNil(t, got["a"])
		assert.Equal(t, `x "q" é`, *got["a"])
		assert.Equal(t, "12.5", *got["b"])
		assert.Equal(t, "false", *got["c"])
		assert.Contains(t, got, "d")
		assert.Nil(t, got["d"])
	})

	t.Run("nested values are rejected", func(t *testing.T) {
		_, err := ParseSettings([]byte(`{"a":{"b":1}}`))
		assert.ErrorContains(t, err, "validation errors")

		_, err = ParseSettings([]byte(`{"a":[1]}`))
		assert.Error(t, err)
	})

	t.Run("empty key is rejected", func(t *testing.T) {
		_, err := ParseSettings([]byte(`{"a":"1","":null}`))
		assert.ErrorContains(t, err, "validation errors")
	})

	t.Run("non object is rejected", func(t *testing.T) {
		_, err := ParseSettings([]byte(`[]`))
		assert.Error(t, err)
	})
}
