package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Sales@Acme.com", "sales@acme.com"},
		{"  V1@X.COM  ", "v1@x.com"},
		{"already@lower.io", "already@lower.io"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeEmail(tc.in))
	}
}
