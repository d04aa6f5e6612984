package oauth

import (
	"bytes"
	"context"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"pollux-go/internal/credential"
	apperrors "pollux-go/internal/errors"
)

// Onboarder discovers the Cloud AI Companion project backing a freshly
// authorized credential.
type Onboarder struct {
	client   *http.Client
	endpoint string
}

// NewOnboarder builds an Onboarder against the given Code Assist base URL.
func NewOnboarder(client *http.Client, endpoint string) *Onboarder {
	return &Onboarder{client: client, endpoint: endpoint}
}

// LoadCodeAssist calls v1internal:loadCodeAssist with the credential's
// access token. When the response names a cloudaicompanionProject the
// credential adopts it as its project id; an absent project keeps the
// credential's own value with a warning. 5xx and transport failures are
// retryable; 4xx is surfaced for classification.
func (o *Onboarder) LoadCodeAssist(ctx context.Context, cred credential.Credential) (credential.Credential, error) {
	payload := []byte(`{}`)
	payload, _ = sjson.SetBytes(payload, "metadata.pluginType", "GEMINI")
	if cred.ProjectID != "" {
		payload, _ = sjson.SetBytes(payload, "cloudaicompanionProject", cred.ProjectID)
	}

	url := o.endpoint + "/v1internal:loadCodeAssist"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return credential.Credential{}, apperrors.Transport("build loadCodeAssist request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := o.client.Do(req)
	if err != nil {
		return credential.Credential{}, apperrors.Transport("call loadCodeAssist", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return credential.Credential{}, apperrors.Transport("read loadCodeAssist response", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return credential.Credential{}, apperrors.GeminiServer(resp.StatusCode, body)
	case resp.StatusCode != http.StatusOK:
		return credential.Credential{}, apperrors.Upstream(resp.StatusCode, resp.Header, body)
	}

	out := cred
	if project := gjson.GetBytes(body, "cloudaicompanionProject").String(); project != "" {
		out.ProjectID = project
	} else {
		log.WithField("project_id", cred.ProjectID).
			Warn("loadCodeAssist returned no cloudaicompanionProject; keeping credential's own project")
	}
	return out, nil
}
