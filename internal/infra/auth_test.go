package infra

import (
	"context"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedInitData(t *testing.T, token string, authDate time.Time) string {
	t.Helper()
	v := url.Values{}
	v.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	v.Set("query_id", "AAF")
	v.Set("user", `{"id":42,"first_name":"Ivan","last_name":"Petrov","username":"ivanp"}`)
	v.Set("hash", SignInitData(v, token))
	return v.Encode()
}

func TestVerifyInitData(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	raw := signedInitData(t, "123:abc", now.Add(-time.Minute))

	u, err := VerifyInitData(raw, "123:abc", time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.ID)
	assert.Equal(t, "Ivan Petrov", u.DisplayName())

	_, err = VerifyInitData(raw, "999:other", time.Hour, now)
	assert.ErrorIs(t, err, ErrInitDataInvalid)

	_, err = VerifyInitData(raw, "123:abc", time.Second, now)
	assert.ErrorIs(t, err, ErrInitDataExpired)

	tampered, _ := url.ParseQuery(raw)
	tampered.Set("user", `{"id":7}`)
	_, err = VerifyInitData(tampered.Encode(), "123:abc", time.Hour, now)
	assert.ErrorIs(t, err, ErrInitDataInvalid)

	_, err = VerifyInitData("auth_date=1", "123:abc", 0, now)
	assert.ErrorIs(t, err, ErrInitDataInvalid)
}

func TestJWTIssuerRoundTrip(t *testing.T) {
	iss, err := NewJWTIssuer("secret", time.Hour)
	require.NoError(t, err)
	now := time.Now()
	iss.now = func() time.Time { return now }

	raw, err := iss.Issue("42", "driver")
	require.NoError(t, err)

	tok, err := iss.VerifyToken(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, &Token{UID: "42", Role: "driver"}, tok)

	other, err := NewJWTIssuer("different", time.Hour)
	require.NoError(t, err)
	_, err = other.VerifyToken(context.Background(), raw)
	assert.Error(t, err)

	iss.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = iss.VerifyToken(context.Background(), raw)
	assert.Error(t, err)

	_, err = NewJWTIssuer("", time.Hour)
	assert.Error(t, err)
}
