package broker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	testCases := []struct {
		name      string
		inputName string
		wantErr   bool
		errMsg    string
	}{
		{name: "valid simple name", inputName: "prod"},
		{name: "valid name with hyphens", inputName: "staging-1"},
		{name: "valid single character", inputName: "a"},
		{name: "empty name", inputName: "", wantErr: true, errMsg: "cannot be empty"},
		{name: "name with uppercase", inputName: "Prod", wantErr: true, errMsg: "must be lowercase alphanumeric"},
		{name: "leading hyphen", inputName: "-prod", wantErr: true, errMsg: "must be lowercase alphanumeric"},
		{name: "trailing hyphen", inputName: "prod-", wantErr: true, errMsg: "must be lowercase alphanumeric"},
		{name: "underscore", inputName: "my_run", wantErr: true, errMsg: "must be lowercase alphanumeric"},
		{name: "too long", inputName: strings.Repeat("a", MaxNameLength+1), wantErr: true, errMsg: "too long"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateName(tc.inputName)
			if tc.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tc.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
