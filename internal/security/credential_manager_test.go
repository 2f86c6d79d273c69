package security

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*CredentialManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return NewCredentialManager(sqlx.NewDb(db, "postgres"), key), mock
}

func TestCredentialManager_EncryptRoundTrip(t *testing.T) {
	cm, _ := newTestManager(t)
	tenant := uuid.New()

	encrypted, err := cm.encryptForTenant(tenant, "super-secret-token")
	require.NoError(t, err)
	assert.NotEqual(t, "super-secret-token", encrypted)

	decrypted, err := cm.decryptForTenant(tenant, encrypted)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-token", decrypted)
}

func TestCredentialManager_WrongTenantCannotDecrypt(t *testing.T) {
	cm, _ := newTestManager(t)
	tenantA := uuid.New()
	tenantB := uuid.New()

	encrypted, err := cm.encryptForTenant(tenantA, "super-secret-token")
	require.NoError(t, err)

	_, err = cm.decryptForTenant(tenantB, encrypted)
	assert.Error(t, err)
}

func TestCredentialManager_StoreAndGetCredential(t *testing.T) {
	cm, mock := newTestManager(t)
	tenant := uuid.New()

	mock.ExpectExec("INSERT INTO source_credentials").
		WithArgs(tenant, "github-main", "api_token", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := cm.StoreCredential(context.Background(), tenant, "github-main", "api_token", "ghp_abc123")
	require.NoError(t, err)

	encrypted, err := cm.encryptForTenant(tenant, "ghp_abc123")
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"encrypted_value"}).AddRow(encrypted)
	mock.ExpectQuery("SELECT encrypted_value FROM source_credentials").
		WithArgs(tenant, "github-main", "api_token").
		WillReturnRows(rows)

	value, err := cm.GetCredential(context.Background(), tenant, "github-main", "api_token")
	require.NoError(t, err)
	assert.Equal(t, "ghp_abc123", value)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCredentialManager_GetAllCredentials(t *testing.T) {
	cm, mock := newTestManager(t)
	tenant := uuid.New()

	tokenEnc, err := cm.encryptForTenant(tenant, "token-value")
	require.NoError(t, err)
	refreshEnc, err := cm.encryptForTenant(tenant, "refresh-value")
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"credential_type", "encrypted_value"}).
		AddRow("api_token", tokenEnc).
		AddRow("oauth_refresh_token", refreshEnc)
	mock.ExpectQuery("SELECT credential_type, encrypted_value FROM source_credentials").
		WithArgs(tenant, "github-main").
		WillReturnRows(rows)

	creds, err := cm.GetAllCredentials(context.Background(), tenant, "github-main")
	require.NoError(t, err)
	assert.Equal(t, "token-value", creds["api_token"])
	assert.Equal(t, "refresh-value", creds["oauth_refresh_token"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewCredentialManager_PanicsOnBadKeyLength(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	assert.Panics(t, func() {
		NewCredentialManager(sqlx.NewDb(db, "postgres"), []byte("too-short"))
	})
}
