// Package demo is a reference Connector implementation: it walks a paginated
// HTTP API authenticated via OAuth2 client-credentials, fetching each
// object's detail individually and emitting one Document per object it can
// read. Real connectors (Confluence, Google Drive, SharePoint, ...) follow
// the same shape against their own APIs.
package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ingestkit/ragpipe/internal/errkind"
	"github.com/ingestkit/ragpipe/internal/model"
	"github.com/ingestkit/ragpipe/internal/syncruntime"
)

// page is one page of the source API's object listing: lightweight
// identifiers only, not the object body.
type page struct {
	Objects    []objectRef `json:"objects"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// objectRef identifies one source record; ObjectType drives the class-wide
// 403 skip policy (e.g. "tickets", "contacts").
type objectRef struct {
	ID         string `json:"id"`
	ObjectType string `json:"type"`
}

// objectDetail is the full body of one object, fetched independently of the
// listing so a single forbidden or malformed object never aborts the page.
type objectDetail struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Connector talks to a single fictitious REST API as a stand-in for a real
// SaaS connector: GET {baseURL}/objects?cursor=...&updated_since=... for the
// listing, GET {baseURL}/objects/{id} for each object's body.
type Connector struct {
	baseURL string
	client  *http.Client
}

// New constructs a Connector. baseURL is the source-configuration value the
// coordinator passes through verbatim; an empty value is invalid.
func New(baseURL string) *Connector {
	return &Connector{baseURL: baseURL}
}

func (c *Connector) Name() string    { return "demo" }
func (c *Connector) Version() string { return "1.0.0" }

func (c *Connector) SyncModes() []model.SyncType {
	return []model.SyncType{model.SyncTypeFull, model.SyncTypeIncremental}
}

// Sync authenticates via OAuth2 client-credentials, then walks every page of
// the object listing, fetching and emitting each object it can read.
func (c *Connector) Sync(ctx context.Context, sctx *syncruntime.SyncContext, credentials map[string]string, sourceConfig map[string]interface{}) error {
	clientID, ok := credentials["client_id"]
	if !ok || clientID == "" {
		return errkind.New(errkind.Authentication, "missing client_id credential")
	}
	clientSecret, ok := credentials["client_secret"]
	if !ok || clientSecret == "" {
		return errkind.New(errkind.Authentication, "missing client_secret credential")
	}
	tokenURL, _ := sourceConfig["token_url"].(string)
	if tokenURL == "" {
		return errkind.New(errkind.Configuration, "sourceConfig.token_url is required")
	}

	oauthCfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	c.client = oauthCfg.Client(ctx)

	updatedSince := ""
	if v, ok := sctx.State()[model.LastSyncAtKey].(string); ok {
		updatedSince = v
	}

	forbiddenTypes := map[string]bool{}
	cursor := ""
	for {
		if sctx.IsCancelled() {
			return errkind.New(errkind.Invariant, "Cancelled")
		}

		p, err := c.fetchPage(ctx, cursor, updatedSince)
		if err != nil {
			if errkind.Of(err) == errkind.Authentication {
				return err
			}
			return errkind.Wrap(errkind.Provider, "fetch page failed", err)
		}

		for _, ref := range p.Objects {
			if sctx.IsCancelled() {
				return errkind.New(errkind.Invariant, "Cancelled")
			}
			if forbiddenTypes[ref.ObjectType] {
				continue
			}
			if err := sctx.IncrementScanned(); err != nil {
				return err
			}

			detail, err := c.fetchObjectDetail(ctx, ref.ID)
			if err != nil {
				switch errkind.Of(err) {
				case errkind.Authentication:
					return errkind.New(errkind.Authentication, "Authentication failed")
				case errkind.Authorization:
					forbiddenTypes[ref.ObjectType] = true
					continue
				default:
					sctx.EmitError(ref.ID, err.Error())
					continue
				}
			}

			doc := syncruntime.EmittedDocument{
				ExternalID: fmt.Sprintf("%s:%s:%s", c.Name(), ref.ObjectType, ref.ID),
				Title:      detail.Title,
				MimeType:   "text/plain",
				Metadata:   model.DocumentMetadata{UpdatedAt: &detail.UpdatedAt},
				Content:    []byte(detail.Body),
			}
			if err := sctx.Emit(ctx, doc); err != nil {
				return fmt.Errorf("emit document %s: %w", ref.ID, err)
			}
		}

		if p.NextCursor == "" {
			break
		}
		cursor = p.NextCursor
	}
	return nil
}

func (c *Connector) fetchPage(ctx context.Context, cursor, updatedSince string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/objects", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if updatedSince != "" {
		q.Set("updated_since", updatedSince)
	}
	req.URL.RawQuery = q.Encode()

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errkind.Wrap(errkind.Transformation, "decode page", err)
	}
	return &p, nil
}

func (c *Connector) fetchObjectDetail(ctx context.Context, id string) (*objectDetail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/objects/"+id, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var d objectDetail
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, errkind.Wrap(errkind.Transformation, "decode object", err)
	}
	return &d, nil
}

// do executes req and classifies the response by the error policy: 401 is
// authentication failure, 403 is authorization failure (class-wide skip at
// the caller), 5xx is transient, other 4xx is a per-item transformation
// error.
func (c *Connector) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		if oauthErr, ok := err.(*oauth2.RetrieveError); ok {
			return nil, errkind.Wrap(errkind.Authentication, "token retrieval failed", oauthErr)
		}
		return nil, errkind.Transientf(nil, "request failed: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errkind.New(errkind.Authentication, "Authentication failed")
	case resp.StatusCode == http.StatusForbidden:
		return nil, errkind.New(errkind.Authorization, "forbidden")
	case resp.StatusCode >= 500:
		return nil, errkind.Transientf(nil, "server error: %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, errkind.New(errkind.Transformation, fmt.Sprintf("client error: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return body, nil
}
