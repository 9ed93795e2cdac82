package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimsContext(t *testing.T) {
	ctx := context.Background()

	assert.Nil(t, ClaimsFromContext(ctx))
	assert.Empty(t, SubjectFromContext(ctx))

	ctx = WithClaims(ctx, &Claims{Subject: "alice", Scopes: []string{"read"}})

	got := ClaimsFromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Subject)
	assert.Equal(t, []string{"read"}, got.Scopes)
	assert.Equal(t, "alice", SubjectFromContext(ctx))
}
