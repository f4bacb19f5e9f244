package oauth2

// Query parameters an OAuth redirect may carry back to the client.
const (
	ParamAccessToken      = "access_token"
	ParamRefreshToken     = "refresh_token"
	ParamIDToken          = "id_token"
	ParamTokenType        = "token_type"
	ParamExpiresIn        = "expires_in"
	ParamError            = "error"
	ParamErrorDescription = "error_description"
)

// ErrorAccessDenied is the RFC 6749 §4.1.2.1 code for a user or provider
// refusing the authorization request.
const ErrorAccessDenied = "access_denied"
