package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedURLRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)

	token, expiresAt, err := signer.Generate("job-1", "reports/financial_summary_abc.csv")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	jobID, relPath, parsedExp, err := signer.Parse(token, false)
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	assert.Equal(t, "reports/financial_summary_abc.csv", relPath)
	assert.Equal(t, expiresAt.Unix(), parsedExp.Unix())
}

func TestSignedURLRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)

	token, _, err := signer.Generate("job-1", "reports/out.csv")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[0] = "job-2"
	_, _, _, err = signer.Parse(strings.Join(parts, "."), false)
	assert.Error(t, err)
}

func TestSignedURLRejectsWrongSecret(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	other := NewSignedURLSigner("different", time.Hour)

	token, _, err := signer.Generate("job-1", "reports/out.csv")
	require.NoError(t, err)

	_, _, _, err = other.Parse(token, false)
	assert.Error(t, err)
}

func TestSignedURLExpiry(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Nanosecond)
	// constructor clamps non-positive TTLs only; a nanosecond is accepted
	token, _, err := signer.Generate("job-1", "reports/out.csv")
	require.NoError(t, err)

	time.Sleep(2 * time.Second)

	_, _, _, err = signer.Parse(token, false)
	assert.Error(t, err)

	jobID, _, _, err := signer.Parse(token, true)
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
}

func TestSignedURLRejectsMalformedToken(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)

	_, _, _, err := signer.Parse("not-a-token", false)
	assert.Error(t, err)
}
