package server

import (
	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewCustomValidator creates a new validator instance.
func NewCustomValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate validates the provided struct.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// PublishRequest is the body of POST /publish.
type PublishRequest struct {
	Channel string `json:"channel" validate:"required"`
	Message string `json:"message"`
}

// PublishResponse is returned once the bus accepted the message.
type PublishResponse struct {
	Channel string `json:"channel"`
}
