package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/bugnest/pkg/models"
)

type contextKey string

const (
	projectKey      contextKey = "project"
	keyPrefixKey    contextKey = "key_prefix"
	apiKeyScopesKey contextKey = "api_key_scopes"
	requestInfoKey  contextKey = "request_info"
)

// requestInfo is filled in by inner middleware so outer middleware can report
// what was resolved for the request.
type requestInfo struct {
	projectID int64
}

func withRequestInfo(ctx context.Context) (context.Context, *requestInfo) {
	info := &requestInfo{}
	return context.WithValue(ctx, requestInfoKey, info), info
}

// SetProject stores the project the authenticated key belongs to.
func SetProject(ctx context.Context, p *models.Project) context.Context {
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok && p != nil {
		info.projectID = p.ID
	}
	return context.WithValue(ctx, projectKey, p)
}

func GetProject(r *http.Request) (*models.Project, bool) {
	p, ok := r.Context().Value(projectKey).(*models.Project)
	return p, ok && p != nil
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

func setScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}

// ExportedKeyPrefixKey returns the context key for key_prefix (for testing).
func ExportedKeyPrefixKey() contextKey {
	return keyPrefixKey
}
