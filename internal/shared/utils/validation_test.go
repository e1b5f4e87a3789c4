package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orris-inc/rolloutd/internal/shared/errors"
)

type assignRequest struct {
	Tenant        string   `json:"tenant" validate:"required,tenant"`
	ControllerIDs []string `json:"controller_ids" validate:"required,min=1,dive,controllerid"`
	ActionType    string   `json:"action_type" validate:"omitempty,actiontype"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name    string
		req     assignRequest
		wantErr string
	}{
		{
			name: "valid",
			req:  assignRequest{Tenant: "default", ControllerIDs: []string{"dev-1", "gw:01@lab"}, ActionType: "soft"},
		},
		{
			name: "action type may be omitted",
			req:  assignRequest{Tenant: "default", ControllerIDs: []string{"dev-1"}},
		},
		{
			name:    "tenant with whitespace",
			req:     assignRequest{Tenant: "my tenant", ControllerIDs: []string{"dev-1"}},
			wantErr: "tenant must be a tenant name",
		},
		{
			name:    "controller id with slash",
			req:     assignRequest{Tenant: "default", ControllerIDs: []string{"dev/1"}},
			wantErr: "controller id",
		},
		{
			name:    "controller id too long",
			req:     assignRequest{Tenant: "default", ControllerIDs: []string{strings.Repeat("x", 257)}},
			wantErr: "controller id",
		},
		{
			name:    "unknown action type",
			req:     assignRequest{Tenant: "default", ControllerIDs: []string{"dev-1"}, ActionType: "later"},
			wantErr: "action_type must be one of",
		},
		{
			name:    "no controllers",
			req:     assignRequest{Tenant: "default"},
			wantErr: "controller_ids is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
			appErr := errors.GetAppError(err)
			require.NotNil(t, appErr)
			assert.Contains(t, appErr.Details, tt.wantErr)
		})
	}
}
