package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/fleetyard/fleetauth"
)

const maxBodyBytes = 16 << 10

type credentialsBody struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=256"`
}

type emailBody struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type codeBody struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Code  string `json:"code" validate:"required,numeric,min=6,max=10"`
}

type changePasswordBody struct {
	OldPassword string `json:"old_password" validate:"required,max=256"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=256,nefield=OldPassword"`
}

type resetConfirmBody struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Code        string `json:"code" validate:"required,numeric,min=6,max=10"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=256"`
}

type roleBody struct {
	Role string `json:"role" validate:"required,oneof=user admin"`
}

type revokeBody struct {
	// SessionID selects one session; empty revokes every session.
	SessionID string `json:"session_id" validate:"omitempty,max=64"`
}

type requestBody interface {
	credentialsBody | emailBody | codeBody | changePasswordBody | resetConfirmBody | roleBody | revokeBody
}

// DecodeValidBody reads a bounded JSON body into B and validates it. Any
// failure wraps fleetauth.ErrInvalidRequest.
func DecodeValidBody[B requestBody](s *Server, r *http.Request) (B, error) {
	var body B
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return body, fmt.Errorf("%w: empty body", fleetauth.ErrInvalidRequest)
		}
		return body, fmt.Errorf("%w: %v", fleetauth.ErrInvalidRequest, err)
	}
	if err := s.validate.Struct(body); err != nil {
		return body, fmt.Errorf("%w: %v", fleetauth.ErrInvalidRequest, err)
	}
	return body, nil
}
