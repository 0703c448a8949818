// README: Firebase Admin SDK initialisation and token verifier.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// Identity is the verified caller extracted from a bearer token.
type Identity struct {
	UID  string
	Role string
}

// TokenVerifier verifies a raw bearer token and returns the caller identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

type firebaseVerifier struct {
	client *auth.Client
}

// NewFirebaseVerifier creates a TokenVerifier using the Firebase Admin SDK.
// If credentialsFile is empty, application-default credentials are used.
func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string) (TokenVerifier, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase app.Auth: %w", err)
	}
	return &firebaseVerifier{client: client}, nil
}

func (v *firebaseVerifier) Verify(ctx context.Context, idToken string) (*Identity, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &Identity{UID: token.UID, Role: RoleFromClaims(token.Claims)}, nil
}

// RoleFromClaims reads the custom "role" claim, falling back to the legacy
// "userType" claim. "passenger" is accepted as an alias for rider.
func RoleFromClaims(claims map[string]interface{}) string {
	for _, key := range []string{"role", "userType"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return normalizeRole(v)
		}
	}
	return ""
}

func normalizeRole(role string) string {
	if role == "passenger" {
		return "rider"
	}
	return role
}
