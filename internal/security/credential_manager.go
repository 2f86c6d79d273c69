// Package security encrypts connector source credentials at rest.
package security

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/hkdf"
)

// keyInfo ties the derived key to this manager's purpose and a version tag,
// allowing future key rotation without breaking old ciphertext.
const keyInfo = "ragpipe-source-credential-v1"

// CredentialManager encrypts and stores per-tenant source credentials.
// Each tenant gets its own data key, derived from a single master key via
// HKDF, so compromising one tenant's derived key never exposes another's.
type CredentialManager struct {
	db        *sqlx.DB
	masterKey []byte
}

// NewCredentialManager returns a manager keyed off masterKey, which must be
// exactly 32 bytes (RAG_MASTER_KEY, base64-decoded, at config load time).
func NewCredentialManager(db *sqlx.DB, masterKey []byte) *CredentialManager {
	if len(masterKey) != 32 {
		panic("master key must be 32 bytes for AES-256")
	}
	return &CredentialManager{db: db, masterKey: masterKey}
}

// StoreCredential encrypts and upserts a single named credential (e.g.
// "api_token", "oauth_refresh_token") for a tenant/source pair.
func (cm *CredentialManager) StoreCredential(ctx context.Context, tenantID uuid.UUID, sourceID, credType, value string) error {
	encrypted, err := cm.encryptForTenant(tenantID, value)
	if err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}

	query := `
		INSERT INTO source_credentials
		(tenant_id, source_id, credential_type, encrypted_value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, source_id, credential_type)
		DO UPDATE SET
			encrypted_value = EXCLUDED.encrypted_value,
			rotated_at = now(),
			updated_at = now()
	`
	if _, err := cm.db.ExecContext(ctx, query, tenantID, sourceID, credType, encrypted); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

// GetCredential retrieves and decrypts a single credential.
func (cm *CredentialManager) GetCredential(ctx context.Context, tenantID uuid.UUID, sourceID, credType string) (string, error) {
	var encrypted string
	query := `
		SELECT encrypted_value FROM source_credentials
		WHERE tenant_id = $1 AND source_id = $2 AND credential_type = $3
	`
	if err := cm.db.GetContext(ctx, &encrypted, query, tenantID, sourceID, credType); err != nil {
		return "", fmt.Errorf("retrieve credential: %w", err)
	}
	return cm.decryptForTenant(tenantID, encrypted)
}

// GetAllCredentials retrieves and decrypts every credential stored for a
// source, keyed by credential type. The Connector Runtime calls this once
// before starting a sync to assemble the connector's auth context.
func (cm *CredentialManager) GetAllCredentials(ctx context.Context, tenantID uuid.UUID, sourceID string) (map[string]string, error) {
	type credRow struct {
		CredentialType string `db:"credential_type"`
		EncryptedValue string `db:"encrypted_value"`
	}
	var rows []credRow
	query := `
		SELECT credential_type, encrypted_value FROM source_credentials
		WHERE tenant_id = $1 AND source_id = $2
	`
	if err := cm.db.SelectContext(ctx, &rows, query, tenantID, sourceID); err != nil {
		return nil, fmt.Errorf("retrieve credentials: %w", err)
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		plain, err := cm.decryptForTenant(tenantID, row.EncryptedValue)
		if err != nil {
			return nil, fmt.Errorf("decrypt credential %s: %w", row.CredentialType, err)
		}
		out[row.CredentialType] = plain
	}
	return out, nil
}

// DeleteCredentials removes every stored credential for a source, e.g. when
// a source is deregistered.
func (cm *CredentialManager) DeleteCredentials(ctx context.Context, tenantID uuid.UUID, sourceID string) error {
	_, err := cm.db.ExecContext(ctx, `DELETE FROM source_credentials WHERE tenant_id = $1 AND source_id = $2`, tenantID, sourceID)
	if err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

func (cm *CredentialManager) encryptForTenant(tenantID uuid.UUID, plaintext string) (string, error) {
	tenantKey, err := cm.deriveTenantKey(tenantID)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(tenantKey)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	// Binds ciphertext to this tenant: decrypting with another tenant's
	// derived key fails authentication even if it somehow held this blob.
	aad := []byte(tenantID.String())
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), aad)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (cm *CredentialManager) decryptForTenant(tenantID uuid.UUID, ciphertext string) (string, error) {
	encrypted, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	tenantKey, err := cm.deriveTenantKey(tenantID)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(tenantKey)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(encrypted) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, body := encrypted[:nonceSize], encrypted[nonceSize:]

	aad := []byte(tenantID.String())
	plaintext, err := gcm.Open(nil, nonce, body, aad)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// deriveTenantKey derives a 32-byte AES-256 key unique to tenantID via
// HKDF-SHA256 over the master key, so no two tenants ever share a data key.
func (cm *CredentialManager) deriveTenantKey(tenantID uuid.UUID) ([]byte, error) {
	reader := hkdf.New(sha256.New, cm.masterKey, []byte(tenantID.String()), []byte(keyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive tenant key: %w", err)
	}
	return key, nil
}
