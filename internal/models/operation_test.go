package models

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() OperationRequest {
	return OperationRequest{
		Command:        "code_upgrade",
		Hostname:       "172.27.200.200",
		Username:       "admin",
		Password:       "secret",
		ImageFilename:  "junos-srx-24.2R1.tgz",
		TargetVersion:  "24.2R1",
		SelectedChecks: []string{"storage", "connectivity"},
	}
}

func TestOperationRequestValidate(t *testing.T) {
	require.NoError(t, validRequest().Validate())

	inventory := validRequest()
	inventory.Hostname = ""
	inventory.InventoryFile = "site-a.yml"
	require.NoError(t, inventory.Validate())
	assert.Equal(t, "site-a.yml", inventory.Target())
}

func TestOperationRequestValidate_ReportsJSONFieldNames(t *testing.T) {
	req := validRequest()
	req.Hostname = ""
	req.Password = ""
	req.SelectedChecks = nil

	err := req.Validate()
	require.Error(t, err)

	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))

	var fields []string
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	assert.ElementsMatch(t, []string{"hostname", "inventory_file", "password", "selected_checks"}, fields)
}

func TestOperationRequestValidate_RejectsBlankCheck(t *testing.T) {
	req := validRequest()
	req.SelectedChecks = []string{"storage", ""}
	assert.Error(t, req.Validate())
}
