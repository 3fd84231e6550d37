package validator

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/authservice/pkg/errors"
)

type testStruct struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,letterdigit"`
}

func validStruct() testStruct {
	return testStruct{Username: "alice", Email: "alice@x.com", Password: "pass123"}
}

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	return valErr.Fields()
}

func TestValidate_Success(t *testing.T) {
	assert.NoError(t, Validate(validStruct()))
}

func TestValidate_MissingRequired_UsesJSONName(t *testing.T) {
	s := validStruct()
	s.Username = ""

	fields := fieldsOf(t, Validate(s))
	assert.Equal(t, "is required", fields["username"])
}

func TestValidate_InvalidEmail(t *testing.T) {
	s := validStruct()
	s.Email = "not-an-email"

	fields := fieldsOf(t, Validate(s))
	assert.Equal(t, "must be a valid email address", fields["email"])
}

func TestValidate_UsernameLength(t *testing.T) {
	s := validStruct()
	s.Username = "al"
	assert.Equal(t, "must be at least 3 characters", fieldsOf(t, Validate(s))["username"])

	s.Username = strings.Repeat("a", 51)
	assert.Equal(t, "must be at most 50 characters", fieldsOf(t, Validate(s))["username"])
}

func TestValidate_PasswordLetterDigit(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
	}{
		{"pass123", true},
		{"123456a", true},
		{"abcdefg", false},
		{"1234567", false},
		{"ab1", false},
		{"abcdef\u0663", false},
		{"\u0661\u0662\u0663\u0664\u0665a", false},
		{"\u00e9\u00e9\u00e9123", false},
	}

	for _, tt := range tests {
		t.Run(tt.password, func(t *testing.T) {
			s := validStruct()
			s.Password = tt.password
			err := Validate(s)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Contains(t, fieldsOf(t, err), "password")
			}
		})
	}
}

func TestValidationError_First(t *testing.T) {
	s := validStruct()
	s.Password = "abcdefg"

	var valErr *ValidationError
	require.ErrorAs(t, Validate(s), &valErr)
	assert.Equal(t, "password must contain at least one letter and one number", valErr.First())
}

func TestValidationError_ErrorString(t *testing.T) {
	s := validStruct()
	s.Email = ""

	err := Validate(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'email' is required")
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"username":"bob"}`))
	var dst testStruct
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, "bob", dst.Username)
}

func TestDecodeJSON_Malformed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{bad`))
	var dst testStruct
	err := DecodeJSON(req, &dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}

func TestValidationError_IsValidationSentinel(t *testing.T) {
	s := validStruct()
	s.Email = ""

	err := Validate(s)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}
