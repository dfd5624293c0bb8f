package ace

import xerrors "OpenACE-Chain/internal/errors"

// 以下哨兵错误按错误码匹配，可直接用于 errors.Is 判断。
var (
	ErrUnauthorized          = xerrors.Sentinel(xerrors.CodeUnauthorized)
	ErrNotRegistered         = xerrors.Sentinel(xerrors.CodeNotRegistered)
	ErrInvalidProof          = xerrors.Sentinel(xerrors.CodeInvalidProof)
	ErrAlreadyExists         = xerrors.Sentinel(xerrors.CodeAlreadyExists)
	ErrAlreadySpent          = xerrors.Sentinel(xerrors.CodeAlreadySpent)
	ErrNoteExists            = xerrors.Sentinel(xerrors.CodeNoteExists)
	ErrNoteNotFound          = xerrors.Sentinel(xerrors.CodeNoteNotFound)
	ErrInsufficientAllowance = xerrors.Sentinel(xerrors.CodeInsufficientAllowance)
	ErrInsufficientBalance   = xerrors.Sentinel(xerrors.CodeInsufficientBalance)
	ErrUnsupportedOperation  = xerrors.Sentinel(xerrors.CodeUnsupportedOperation)
)
