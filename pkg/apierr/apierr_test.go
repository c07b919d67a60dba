package apierr

import (
	"net/http"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestStatusError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		temporary bool
	}{
		{"rate_limited", http.StatusTooManyRequests, true},
		{"server_error", http.StatusBadGateway, true},
		{"unauthorized", http.StatusUnauthorized, false},
		{"bad_request", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eris.Wrap(New("clearbit", tt.status, []byte("oops")), "lookup")
			assert.Equal(t, tt.temporary, IsTemporary(err))
			assert.Equal(t, tt.status, Status(err))
			assert.Contains(t, err.Error(), "clearbit: unexpected status")
		})
	}
}

func TestNew_TruncatesBody(t *testing.T) {
	err := New("apollo", 500, []byte(strings.Repeat("x", 2000)))
	assert.Len(t, err.Body, maxBody+3)
}

func TestStatus_NonStatusError(t *testing.T) {
	assert.Zero(t, Status(eris.New("boom")))
	assert.False(t, IsTemporary(nil))
}
