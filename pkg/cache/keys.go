package cache

import "fmt"

// Keys use colon-separated segments so a whole family can be loaded with a
// prefix scan.

const (
	// AssessmentPrefix namespaces in-progress questionnaires by user.
	AssessmentPrefix = "assessment:"
	// AuthPrefix namespaces the identity token cache.
	AuthPrefix = "auth:"

	// AnonymousOwner owns questionnaires started while signed out.
	AnonymousOwner = "anonymous"
)

// AssessmentKey returns the durable key of a user's in-progress questionnaire.
// An empty userID maps to the anonymous owner.
func AssessmentKey(userID string) string {
	if userID == "" {
		userID = AnonymousOwner
	}
	return AssessmentPrefix + userID
}

// CredentialPrefix returns the prefix of every credential key for a client.
func CredentialPrefix(clientID string) string {
	return fmt.Sprintf("%s%s:", AuthPrefix, clientID)
}

// LastAuthUserKey names the key holding the active username.
func LastAuthUserKey(clientID string) string {
	return CredentialPrefix(clientID) + "LastAuthUser"
}

// CredentialKey names one credential field of a user, e.g. "idToken".
func CredentialKey(clientID, username, field string) string {
	return fmt.Sprintf("%s%s:%s", CredentialPrefix(clientID), username, field)
}
