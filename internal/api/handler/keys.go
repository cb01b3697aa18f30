package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/bugnest/internal/api/middleware"
	"github.com/kiranshivaraju/bugnest/internal/api/response"
	"github.com/kiranshivaraju/bugnest/internal/validation"
	"github.com/kiranshivaraju/bugnest/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	rawKeyPrefix  = "bn_"
	rawKeyBytes   = 16
	maxKeyNameLen = 100
	ScopeRead     = "read"
	ScopeAdmin    = "admin"
)

// APIKeyStore is the slice of the store used by key management.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, projectID int64) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, projectID int64) error
}

type createKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

// createdKey is the only response that ever carries the raw key.
type createdKey struct {
	*models.APIKey
	Key string `json:"key"`
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
func NewCreateKeyHandler(keys APIKeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectFrom(w, r)
		if !ok {
			return
		}
		var req createKeyRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		req.Name = strings.TrimSpace(req.Name)
		if len(req.Scopes) == 0 {
			req.Scopes = []string{ScopeRead}
		}
		v := &validation.Error{}
		if req.Name == "" {
			v.Add("name", "is required")
		} else if len(req.Name) > maxKeyNameLen {
			v.Add("name", "must be at most %d characters", maxKeyNameLen)
		}
		for _, s := range req.Scopes {
			if s != ScopeRead && s != ScopeAdmin {
				v.Add("scopes", "unknown scope %q", s)
			}
		}
		if err := v.Err(); err != nil {
			response.Invalid(w, err)
			return
		}

		raw, err := generateRawKey()
		if err != nil {
			writeError(w, r, err)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, r, fmt.Errorf("hash api key: %w", err))
			return
		}

		now := time.Now().UTC()
		key := &models.APIKey{
			ID:        uuid.New(),
			ProjectID: project.ID,
			Name:      req.Name,
			KeyHash:   string(hash),
			KeyPrefix: raw[:mw.KeyPrefixLen],
			Scopes:    req.Scopes,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := keys.CreateAPIKey(r.Context(), key); err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, createdKey{APIKey: key, Key: raw})
	}
}

func generateRawKey() (string, error) {
	b := make([]byte, rawKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return rawKeyPrefix + hex.EncodeToString(b), nil
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/admin/keys.
func NewListKeysHandler(keys APIKeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectFrom(w, r)
		if !ok {
			return
		}
		list, err := keys.ListAPIKeys(r.Context(), project.ID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []*models.APIKey{}
		}
		response.JSON(w, list)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(keys APIKeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project, ok := projectFrom(w, r)
		if !ok {
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "keyID must be a UUID", nil)
			return
		}
		if err := keys.RevokeAPIKey(r.Context(), id, project.ID); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}
