// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-shw.
//
// go-shw is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package correlation

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestWithCorrelationID(t *testing.T) {
	tests := []struct {
		name          string
		ctx           context.Context
		correlationID string
		want          string
	}{
		{
			name:          "Add correlation ID to context",
			ctx:           context.Background(),
			correlationID: "test-correlation-id",
			want:          "test-correlation-id",
		},
		{
			name:          "Add correlation ID to nil context",
			ctx:           nil,
			correlationID: "test-correlation-id-2",
			want:          "test-correlation-id-2",
		},
		{
			name:          "Add empty correlation ID",
			ctx:           context.Background(),
			correlationID: "",
			want:          "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithCorrelationID(tt.ctx, tt.correlationID)
			if ctx == nil {
				t.Fatal("WithCorrelationID returned nil context")
			}
			if got := GetCorrelationID(ctx); got != tt.want {
				t.Errorf("GetCorrelationID() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetCorrelationID_Missing(t *testing.T) {
	//nolint:staticcheck // nil context is part of the contract
	if got := GetCorrelationID(nil); got != "" {
		t.Errorf("GetCorrelationID(nil) = %q, want empty", got)
	}
	if got := GetCorrelationID(context.Background()); got != "" {
		t.Errorf("GetCorrelationID() = %q, want empty", got)
	}
}

func TestNewID(t *testing.T) {
	id := NewID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("NewID() = %q is not a UUID: %v", id, err)
	}
	if id == NewID() {
		t.Error("NewID() returned the same ID twice")
	}
}

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background())
	if id == "" {
		t.Fatal("Ensure() returned an empty ID")
	}
	if got := GetCorrelationID(ctx); got != id {
		t.Errorf("context carries %q, want %q", got, id)
	}

	ctx2, id2 := Ensure(ctx)
	if id2 != id || ctx2 != ctx {
		t.Errorf("Ensure() replaced an existing ID: %q -> %q", id, id2)
	}
}
