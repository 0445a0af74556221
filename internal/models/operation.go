package models

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// requestValidator reports fields by their JSON names
var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// OperationRequest carries the user-entered parameters for a device operation.
// Validation tags encode the pre-check guard: a target (hostname or inventory), credentials,
// image, target version and at least one selected check.
type OperationRequest struct {
	// code_upgrade, backup, restore, template_deploy or validation
	Command        string   `json:"command" toml:"command"`
	Hostname       string   `json:"hostname,omitempty" toml:"hostname" validate:"required_without=InventoryFile"`
	InventoryFile  string   `json:"inventory_file,omitempty" toml:"inventory_file" validate:"required_without=Hostname"`
	Username       string   `json:"username" toml:"username" validate:"required"`
	Password       string   `json:"password" toml:"password" validate:"required"`
	Vendor         string   `json:"vendor,omitempty" toml:"vendor"`
	Platform       string   `json:"platform,omitempty" toml:"platform"`
	ImageFilename  string   `json:"image_filename" toml:"image_filename" validate:"required"`
	TargetVersion  string   `json:"target_version" toml:"target_version" validate:"required"`
	SelectedChecks []string `json:"selected_checks" toml:"selected_checks" validate:"required,min=1,dive,required"`
	RequestID      string   `json:"request_id,omitempty" toml:"-"`
}

// Target returns the device or inventory the request operates on
func (r OperationRequest) Target() string {
	if r.Hostname != "" {
		return r.Hostname
	}
	return r.InventoryFile
}

// Validate checks the request using go-playground/validator.
// Returns validator.ValidationErrors listing every missing or invalid field.
func (r OperationRequest) Validate() error {
	return requestValidator.Struct(r)
}

// ExecuteRequest is the body sent when the user confirms execution after review
type ExecuteRequest struct {
	OperationRequest
	PreCheckJobID string `json:"pre_check_job_id"`
}

// JobStartResponse is the backend reply to a job-start call
type JobStartResponse struct {
	JobID   string `json:"job_id"`
	Channel string `json:"ws_channel,omitempty"` // Optional; "job:{job_id}" when absent
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// ControlType is the type of a frame sent from the client to the relay
type ControlType string

const (
	ControlSubscribe   ControlType = "SUBSCRIBE"
	ControlUnsubscribe ControlType = "UNSUBSCRIBE"
)

// ControlFrame is exactly {type, channel} on the wire
type ControlFrame struct {
	Type    ControlType `json:"type"`
	Channel string      `json:"channel"`
}
