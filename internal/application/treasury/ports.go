package treasury

import (
	"context"
	"io"

	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/google/uuid"
)

// AttachmentStorage stores statement source files in object storage
type AttachmentStorage interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	// Delete removes the object; deleting a missing object is not an error
	Delete(ctx context.Context, key string) error
}

// ReportCache holds encoded analytics reports per tenant
type ReportCache interface {
	Get(ctx context.Context, tenantID uuid.UUID, key string) ([]byte, bool, error)
	// Generation returns a counter that changes whenever the tenant is invalidated
	Generation(ctx context.Context, tenantID uuid.UUID) (int64, error)
	// SetIfCurrent stores value unless the tenant was invalidated after gen was read
	SetIfCurrent(ctx context.Context, tenantID uuid.UUID, gen int64, key string, value []byte) (bool, error)
	InvalidateTenant(ctx context.Context, tenantID uuid.UUID) error
}

// StatementParser turns an uploaded statement file into lines
type StatementParser interface {
	Parse(r io.Reader) ([]treasury.LineInput, error)
}
