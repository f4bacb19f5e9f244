package oauth2

// RefreshRequest is the body posted to the refresh endpoint.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}
