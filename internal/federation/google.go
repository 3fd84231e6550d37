package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"

	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/pkg/httpclient"
)

var (
	// ErrRejected is returned when the identity token is not acceptable.
	ErrRejected = errors.New("identity token rejected")
	// ErrUnavailable is returned when the provider's signing keys cannot be fetched.
	ErrUnavailable = errors.New("identity provider unavailable")
)

// Identity is the verified claim set extracted from a provider token.
type Identity struct {
	Provider       string
	ProviderUserID string
	Email          string
	DisplayName    string
}

// payloadValidator is satisfied by *idtoken.Validator.
type payloadValidator interface {
	Validate(ctx context.Context, idToken string, audience string) (*idtoken.Payload, error)
}

// GoogleVerifier verifies Google ID tokens against a configured OAuth client ID.
type GoogleVerifier struct {
	clientID  string
	validator payloadValidator
	logger    *slog.Logger
}

// NewGoogleVerifier creates a verifier that fetches Google's signing keys
// through client, normally one built by httpclient.NewResilientClient.
func NewGoogleVerifier(ctx context.Context, clientID string, client *http.Client, logger *slog.Logger) (*GoogleVerifier, error) {
	v, err := idtoken.NewValidator(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create google token validator: %w", err)
	}
	return newGoogleVerifier(clientID, v, logger), nil
}

func newGoogleVerifier(clientID string, v payloadValidator, logger *slog.Logger) *GoogleVerifier {
	return &GoogleVerifier{clientID: clientID, validator: v, logger: logger}
}

// Verify validates idToken and returns the identity it asserts.
func (g *GoogleVerifier) Verify(ctx context.Context, idToken string) (*Identity, error) {
	if g.clientID == "" {
		return nil, fmt.Errorf("%w: google client id not configured", ErrUnavailable)
	}

	payload, err := g.validator.Validate(ctx, idToken, g.clientID)
	if err != nil {
		if isTransportError(err) {
			g.logger.WarnContext(ctx, "google key fetch failed", slog.String("error", err.Error()))
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	email, _ := payload.Claims["email"].(string)
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: email not present in id token", ErrRejected)
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok && !verified {
		return nil, fmt.Errorf("%w: email not verified", ErrRejected)
	}
	if payload.Subject == "" {
		return nil, fmt.Errorf("%w: subject not present in id token", ErrRejected)
	}

	name, _ := payload.Claims["name"].(string)
	return &Identity{
		Provider:       domain.ProviderGoogle,
		ProviderUserID: payload.Subject,
		Email:          email,
		DisplayName:    strings.TrimSpace(name),
	}, nil
}

// certFetchFailures are the idtoken messages for a certificate endpoint that
// answered without usable keys. They carry no error type to match on.
var certFetchFailures = []string{
	"idtoken: unable to retrieve cert",
	"idtoken: cert response is nil",
}

func isTransportError(err error) bool {
	if errors.Is(err, httpclient.ErrCircuitOpen) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	msg := err.Error()
	for _, prefix := range certFetchFailures {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}
