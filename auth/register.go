package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-auth-session/autherrors"
	"github.com/jrsteele09/go-auth-session/pipeline"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/pkg/errors"
)

// Registration is the data sent to the register endpoint. Extra fields are
// merged into the body without overriding the named ones.
type Registration struct {
	Email    string
	Password string
	Name     string
	Extra    map[string]any
}

func (r Registration) body() map[string]any {
	body := make(map[string]any, len(r.Extra)+3)
	for k, v := range r.Extra {
		body[k] = v
	}
	body["email"] = r.Email
	body["password"] = r.Password
	if r.Name != "" {
		body["name"] = r.Name
	}
	return body
}

// RegistrationResult describes an accepted registration. The user is not
// logged in.
type RegistrationResult struct {
	StatusCode int
	User       users.User // Zero when the response carried no profile
	Message    string
	Body       []byte
}

// Register creates an account. The password is checked locally before any
// request is made.
func (m *Manager) Register(ctx context.Context, r Registration) (*RegistrationResult, error) {
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" || !strings.Contains(r.Email, "@") {
		return nil, errors.Wrap(autherrors.ErrInvalidRegistration, "[Manager.Register] a valid email is required")
	}
	if err := users.ValidatePasswordStrength(r.Password); err != nil {
		return nil, errors.Wrap(fmt.Errorf("%w: %v", autherrors.ErrInvalidRegistration, err), "[Manager.Register]")
	}

	req := pipeline.NewRequest(http.MethodPost, m.cfg.GetRegisterPath(), r.body())
	req.Anonymous = true
	resp, err := m.pipeline.Send(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Register] register request failed")
	}
	if !resp.OK() {
		return nil, errors.Wrap(registerError(resp), "[Manager.Register] registration rejected")
	}

	result := &RegistrationResult{StatusCode: resp.StatusCode, Body: resp.Body}
	if u, ok := m.normalizer.User(resp.Body); ok {
		result.User = u
	}
	var payload map[string]any
	if resp.Decode(&payload) == nil {
		if msg, ok := payload["message"].(string); ok {
			result.Message = msg
		}
	}
	m.log.Info().Str("user_id", result.User.ID).Msg("account registered")
	return result, nil
}
