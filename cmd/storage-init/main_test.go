package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

func TestIgnoreExisting(t *testing.T) {
	exists := &azcore.ResponseError{ErrorCode: string(aztables.TableAlreadyExists), StatusCode: 409}
	other := &azcore.ResponseError{ErrorCode: "AuthorizationFailure", StatusCode: 403}
	plain := errors.New("dial tcp: refused")

	tests := []struct {
		name    string
		err     error
		code    string
		wantNil bool
	}{
		{name: "nil", err: nil, code: queueAlreadyExists, wantNil: true},
		{name: "tableExists", err: exists, code: string(aztables.TableAlreadyExists), wantNil: true},
		{name: "wrapped", err: fmt.Errorf("create: %w", exists), code: string(aztables.TableAlreadyExists), wantNil: true},
		{name: "otherCode", err: other, code: string(aztables.TableAlreadyExists)},
		{name: "codeMismatch", err: exists, code: queueAlreadyExists},
		{name: "plain", err: plain, code: queueAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ignoreExisting(tt.err, tt.code)
			if (got == nil) != tt.wantNil {
				t.Fatalf("ignoreExisting(%v, %s) = %v", tt.err, tt.code, got)
			}
		})
	}
}
