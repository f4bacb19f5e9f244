package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jrsteele09/go-auth-session/users"
)

// Field names, in priority order. Earlier entries win when several are
// present.
var (
	AccessTokenFields  = []string{"access_token", "accessToken", "token", "jwt", "auth_token", "authToken"}
	RefreshTokenFields = []string{"refresh_token", "refreshToken", "refresh"}
	IDTokenFields      = []string{"id_token", "idToken"}

	userIDFields    = []string{"id", "_id", "user_id", "userId", "uid", "sub"}
	userEmailFields = []string{"email", "mail", "email_address", "emailAddress"}
	userNameFields  = []string{"name", "full_name", "fullName", "display_name", "displayName", "username"}
	userRoleFields  = []string{"roles", "role", "groups", "authorities"}
)

// Containers searched for tokens: the top level first, then nested ones.
var tokenContainers = [][]string{
	{},
	{"data"},
	{"tokens"},
	{"data", "tokens"},
	{"result"},
}

type userContainer struct {
	path []string
	// Flat containers mix profile and token fields, so they only count as a
	// profile when an email is present.
	requireEmail bool
}

var userContainers = []userContainer{
	{path: []string{"user"}},
	{path: []string{"data", "user"}},
	{path: []string{"profile"}},
	{path: []string{"data", "profile"}},
	{path: []string{"account"}},
	{path: []string{"data", "account"}},
	{path: []string{"data"}, requireEmail: true},
	{path: []string{}, requireEmail: true},
}

func lookup(root map[string]any, path []string) (map[string]any, bool) {
	cur := root
	for _, p := range path {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func findString(root map[string]any, containers [][]string, fields []string) string {
	for _, path := range containers {
		obj, ok := lookup(root, path)
		if !ok {
			continue
		}
		if s := firstString(obj, fields); s != "" {
			return s
		}
	}
	return ""
}

func firstString(obj map[string]any, fields []string) string {
	for _, f := range fields {
		if s := scalar(obj[f]); s != "" {
			return s
		}
	}
	return ""
}

// scalar renders strings and numbers; IDs are often numeric.
func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func findUser(root map[string]any) (users.User, bool) {
	for _, c := range userContainers {
		obj, ok := lookup(root, c.path)
		if !ok {
			continue
		}
		u := users.New(
			firstString(obj, userIDFields),
			firstString(obj, userEmailFields),
			userName(obj),
			roles(obj)...,
		)
		if c.requireEmail && u.Email == "" {
			continue
		}
		if u.ID != "" || u.Email != "" {
			return u, true
		}
	}
	return users.User{}, false
}

func userName(obj map[string]any) string {
	if n := firstString(obj, userNameFields); n != "" {
		return n
	}
	first := firstString(obj, []string{"first_name", "firstName", "given_name"})
	last := firstString(obj, []string{"last_name", "lastName", "family_name"})
	return strings.TrimSpace(first + " " + last)
}

func roles(obj map[string]any) []string {
	for _, f := range userRoleFields {
		switch v := obj[f].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, r := range v {
				if s := scalar(r); s != "" {
					out = append(out, s)
				} else if m, ok := r.(map[string]any); ok {
					out = append(out, firstString(m, []string{"name", "role", "authority"}))
				}
			}
			return out
		case string:
			return strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
		}
	}
	return nil
}
