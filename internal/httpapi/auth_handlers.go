package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

type loginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type registerRequest struct {
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Age             *int   `json:"age"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type resetRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
}

type newPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type messageResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	identity := strings.TrimSpace(req.UsernameOrEmail)

	token, err := a.svc.Login(r.Context(), identity, req.Password)
	if err != nil {
		_ = audit.LogEvent(r.Context(), audit.LoginFailed, map[string]any{
			"identity": identity,
			"reason":   auth.Kind(err),
		})
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.LoginSucceeded, map[string]any{
		"identity": identity,
	})
	w.Header().Set(authHeader, bearer+token)
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if req.Password != req.ConfirmPassword {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "passwords do not match")
		return
	}
	view, err := a.svc.Register(r.Context(), auth.Registration{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Username:  req.Username,
		Email:     req.Email,
		Age:       req.Age,
		Password:  req.Password,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.RegisterSucceeded, map[string]any{
		"principal_id": view.ID,
		"username":     view.Username,
	})
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handleVerifyAccount(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.VerifyAccount(r.Context(), chi.URLParam(r, "token")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.AccountVerified, nil)
	http.Redirect(w, r, a.cfg.RedirectURL, http.StatusMovedPermanently)
}

func (a *API) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	identity := strings.TrimSpace(req.UsernameOrEmail)
	if err := a.svc.RequestReset(r.Context(), identity); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.ResetRequested, map[string]any{
		"identity": identity,
	})
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password link sent successfully", Success: true})
}

func (a *API) handleConsumeReset(w http.ResponseWriter, r *http.Request) {
	var req newPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if req.Password != req.ConfirmPassword {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "passwords do not match")
		return
	}
	if err := a.svc.ConsumeReset(r.Context(), chi.URLParam(r, "token"), req.Password); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.ResetConsumed, nil)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Password changed successfully", Success: true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          claims.UserID,
		"name":        claims.Name,
		"username":    claims.Username,
		"email":       claims.Email,
		"orgId":       claims.OrganizationID,
		"roles":       claims.Roles,
		"permissions": claims.Permissions,
	})
}

// writeServiceError maps the auth taxonomy onto statuses. Only caller-facing
// kinds carry the underlying message; the rest get a fixed one.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.Kind(err)
	status, msg := http.StatusInternalServerError, "internal error"
	switch kind {
	case "invalid_input":
		status, msg = http.StatusBadRequest, strings.TrimPrefix(err.Error(), "auth: invalid input: ")
	case "not_found":
		status, msg = http.StatusNotFound, "not found"
	case "invalid_credentials":
		status, msg = http.StatusUnauthorized, "invalid credentials"
	case "account_not_verified":
		status, msg = http.StatusForbidden, "account not verified"
	case "conflict":
		status, msg = http.StatusConflict, strings.TrimPrefix(err.Error(), "auth: conflict: ")
	case "no_grants":
		status, msg = http.StatusUnauthorized, "no access granted"
	case "unauthorized", "invalid_token", "expired_token":
		status, msg = http.StatusUnauthorized, "unauthorized"
	case "forbidden":
		status, msg = http.StatusForbidden, "forbidden"
	case "store_unavailable":
		status, msg = http.StatusServiceUnavailable, "service temporarily unavailable"
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		obs.Logger().WithError(err).WithFields(logrus.Fields{
			"kind": kind,
			"path": obs.CanonicalPath(r.URL.Path),
		}).Error("request failed")
	}
	writeError(w, r, status, kind, msg)
}
