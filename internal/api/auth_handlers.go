package api

import (
	"errors"
	"net/http"

	"github.com/MediSynth-io/messagely/internal/auth"
	"github.com/MediSynth-io/messagely/internal/models"
)

type registerRequest struct {
	Username  string `json:"username" validate:"required,max=255,excludesall=/?#%"`
	Password  string `json:"password" validate:"required,max=72"`
	FirstName string `json:"first_name" validate:"required,max=255"`
	LastName  string `json:"last_name" validate:"required,max=255"`
	Phone     string `json:"phone" validate:"required,max=64"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (api *Api) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := api.decode(w, r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}

	token, err := api.auth.Register(r.Context(), auth.Registration{
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		if errors.Is(err, models.ErrUsernameTaken) {
			err = unauthorized(err)
		}
		api.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, tokenResponse{Token: token})
}

func (api *Api) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := api.decode(w, r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}

	token, err := api.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		// Unknown user and wrong password must look the same.
		if errors.Is(err, auth.ErrNotFound) || errors.Is(err, auth.ErrInvalidCredentials) {
			err = unauthorized(err)
		}
		api.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}
