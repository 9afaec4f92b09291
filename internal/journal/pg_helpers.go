package journal

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"go-chronicle/internal/layout"
)

func pgUUIDToUUID(u pgtype.UUID) uuid.UUID {
	if !u.Valid {
		return uuid.UUID{}
	}
	return uuid.UUID(u.Bytes)
}

func fingerprintFromBytes(b []byte) layout.Fingerprint {
	var fp layout.Fingerprint
	copy(fp[:], b)
	return fp
}
