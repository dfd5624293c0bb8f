package api

import (
	"context"
	"errors"
	"net/http"

	xerrors "OpenACE-Chain/internal/errors"
)

// statusOf 把错误码映射为 HTTP 状态码。
func statusOf(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeUnauthorized:
		return http.StatusForbidden
	case xerrors.CodeNotFound, xerrors.CodeNotRegistered, xerrors.CodeNoteNotFound:
		return http.StatusNotFound
	case xerrors.CodeAlreadyExists, xerrors.CodeAlreadySpent, xerrors.CodeNoteExists:
		return http.StatusConflict
	case xerrors.CodeInvalidProof, xerrors.CodeInsufficientAllowance,
		xerrors.CodeInsufficientBalance, xerrors.CodeUnsupportedOperation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(err error) ErrorResponse {
	resp := ErrorResponse{Code: string(xerrors.CodeOf(err)), Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		resp.Details = e.Metadata()
		// 基础设施故障只返回错误码的描述，不暴露底层原因
		if statusOf(err) >= http.StatusInternalServerError {
			resp.Message = e.Message()
		}
	}
	return resp
}
