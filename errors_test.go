package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeInvalidRequest, http.StatusBadRequest},
		{CodeUnauthorizedClient, http.StatusBadRequest},
		{CodeAccessDenied, http.StatusUnauthorized},
		{CodeUnsupportedResponseType, http.StatusBadRequest},
		{CodeInvalidScope, http.StatusBadRequest},
		{CodeServerError, http.StatusInternalServerError},
		{CodeTemporarilyUnavailable, http.StatusBadRequest},
		{CodeUnsupportedGrantType, http.StatusNotImplemented},
		{CodeInvalidClient, http.StatusUnauthorized},
		{CodeInvalidGrant, http.StatusBadRequest},
		{CodeInvalidCredentials, http.StatusBadRequest},
		{CodeInvalidRefresh, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			got, ok := StatusForCode(tt.code)
			if !ok {
				t.Fatalf("StatusForCode(%q) not recognized", tt.code)
			}
			if got != tt.want {
				t.Errorf("StatusForCode(%q) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}

	if len(statusByCode) != len(tests) {
		t.Errorf("status table has %d codes, test covers %d", len(statusByCode), len(tests))
	}
	for code, status := range statusByCode {
		if status == http.StatusServiceUnavailable {
			t.Errorf("%s maps to 503", code)
		}
	}
}

func TestStatusForCode_Unknown(t *testing.T) {
	for _, code := range []ErrorCode{"invalid_token", CodeUndefined, CodeForbidden, ""} {
		if _, ok := StatusForCode(code); ok {
			t.Errorf("StatusForCode(%q) should not be recognized", code)
		}
	}
}

func TestTranslate(t *testing.T) {
	wwwAuth := http.Header{"Www-Authenticate": []string{`Bearer error="invalid_client"`}}

	tests := []struct {
		name        string
		err         error
		wantCode    ErrorCode
		wantStatus  int
		wantDesc    string
		wantHeaders http.Header
	}{
		{
			name:       "invalid grant",
			err:        NewProtocolError(CodeInvalidGrant, "Authorization code expired"),
			wantCode:   CodeInvalidGrant,
			wantStatus: http.StatusBadRequest,
			wantDesc:   "Authorization code expired",
		},
		{
			name:        "engine headers kept",
			err:         &ProtocolError{Code: CodeInvalidClient, Description: "Client authentication failed", Headers: wwwAuth},
			wantCode:    CodeInvalidClient,
			wantStatus:  http.StatusUnauthorized,
			wantDesc:    "Client authentication failed",
			wantHeaders: wwwAuth,
		},
		{
			name:       "wrapped protocol error",
			err:        fmt.Errorf("exchange: %w", NewProtocolError(CodeUnsupportedGrantType, "Grant type device_code not supported")),
			wantCode:   CodeUnsupportedGrantType,
			wantStatus: http.StatusNotImplemented,
			wantDesc:   "Grant type device_code not supported",
		},
		{
			name:       "unknown protocol code",
			err:        NewProtocolError("invalid_token", "bad token"),
			wantCode:   CodeUndefined,
			wantStatus: http.StatusInternalServerError,
			wantDesc:   "invalid_token: bad token",
		},
		{
			name:       "plain error",
			err:        errors.New("connection refused"),
			wantCode:   CodeUndefined,
			wantStatus: http.StatusInternalServerError,
			wantDesc:   "connection refused",
		},
		{
			name:       "gateway error passes through",
			err:        Forbidden("nope"),
			wantCode:   CodeForbidden,
			wantStatus: http.StatusForbidden,
			wantDesc:   "nope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Translate(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", got.Status, tt.wantStatus)
			}
			if got.Description != tt.wantDesc {
				t.Errorf("Description = %q, want %q", got.Description, tt.wantDesc)
			}
			for name := range tt.wantHeaders {
				if got.Headers.Get(name) != tt.wantHeaders.Get(name) {
					t.Errorf("header %s = %q, want %q", name, got.Headers.Get(name), tt.wantHeaders.Get(name))
				}
			}
		})
	}
}

func TestTranslate_Nil(t *testing.T) {
	if got := Translate(nil); got != nil {
		t.Errorf("Translate(nil) = %v, want nil", got)
	}
}

func TestTranslate_ClonesHeaders(t *testing.T) {
	protoErr := &ProtocolError{
		Code:    CodeInvalidClient,
		Headers: http.Header{"Www-Authenticate": []string{"Bearer"}},
	}

	got := Translate(protoErr)
	got.Headers.Set("Www-Authenticate", "changed")

	if protoErr.Headers.Get("Www-Authenticate") != "Bearer" {
		t.Error("Translate must not alias the engine's headers")
	}
}

func TestError_Body(t *testing.T) {
	body := Translate(NewProtocolError(CodeInvalidGrant, "expired")).Body()
	if body.Message != CodeInvalidGrant || body.Description != "expired" {
		t.Errorf("Body() = %+v", body)
	}

	body = Forbidden("token expired").Body()
	if body.Message != "forbidden" {
		t.Errorf("Forbidden message = %q, want forbidden", body.Message)
	}
}
