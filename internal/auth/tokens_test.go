package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilops/vigil/internal/auth"
)

func TestHMACTokens_IssueAndVerify(t *testing.T) {
	tokens := auth.NewHMACTokens("test-secret")

	tok, err := tokens.Issue("session-1", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	assert.NoError(t, tokens.Verify(tok, "session-1"))
}

func TestHMACTokens_RejectsWrongSession(t *testing.T) {
	tokens := auth.NewHMACTokens("test-secret")

	tok, err := tokens.Issue("session-1", time.Hour)
	require.NoError(t, err)

	assert.Error(t, tokens.Verify(tok, "session-2"), "token is bound to its session")
}

func TestHMACTokens_RejectsWrongSecret(t *testing.T) {
	tok, err := auth.NewHMACTokens("secret-a").Issue("session-1", time.Hour)
	require.NoError(t, err)

	assert.Error(t, auth.NewHMACTokens("secret-b").Verify(tok, "session-1"))
}

func TestHMACTokens_RejectsExpired(t *testing.T) {
	tokens := auth.NewHMACTokens("test-secret")

	tok, err := tokens.Issue("session-1", -time.Minute)
	require.NoError(t, err)

	assert.Error(t, tokens.Verify(tok, "session-1"))
}

func TestHMACTokens_RejectsGarbage(t *testing.T) {
	tokens := auth.NewHMACTokens("test-secret")
	assert.Error(t, tokens.Verify("not-a-jwt", "session-1"))
}
