package curve

import "codeberg.org/mutker/thermalctl/internal/errors"

const (
	ErrInvalidTable   = errors.ErrorCode("curve_invalid_table")
	ErrInvalidPoint   = errors.ErrorCode("curve_invalid_point")
	ErrCorruptFile    = errors.ErrorCode("curve_corrupt_file")
	ErrUnsupportedVer = errors.ErrorCode("curve_unsupported_version")
	ErrStorageAccess  = errors.ErrorCode("curve_storage_access_failed")
)
