package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/stepflow/stepflow/internal/pkg/pointers"
)

func PtrInt(v int) *int              { return pointers.Int(v) }
func PtrString(v string) *string     { return pointers.String(v) }
func PtrTime(v time.Time) *time.Time { return pointers.Ptr(v) }
func PtrUUID(v uuid.UUID) *uuid.UUID { return pointers.Ptr(v) }
