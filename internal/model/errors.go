// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。ハンドラーはKindからHTTPステータスを決定する。
type ErrorKind string

const (
	// KindValidation は呼び出し側の入力不備。利用者が修正可能。
	KindValidation ErrorKind = "validation"
	// KindAuthorization は認証情報の欠落または不一致。
	KindAuthorization ErrorKind = "auth"
	// KindNotFound は参照先エンティティが存在しない。
	KindNotFound ErrorKind = "not_found"
	// KindPrecondition はエンティティが要求された遷移を受け付けない状態にある。
	KindPrecondition ErrorKind = "precondition"
	// KindPersistence はデータストアの障害。利用者は修正できない。
	KindPersistence ErrorKind = "persistence"
	// KindDelivery は単一宛先への通知失敗。配信バッチ内で回収され、呼び出し元には返らない。
	KindDelivery ErrorKind = "delivery"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Kind     ErrorKind
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, change, billing, system
	Action   string // 利用者向け対処方法
	Err      error  // 原因（ログ用。レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsKind はerrがAPIErrorであり、指定Kindであるかを判定する。
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest          = "INVALID_REQUEST"
	ErrCodeChangeIDRequired        = "CHANGE_ID_REQUIRED"
	ErrCodeChangeIDSummaryRequired = "CHANGE_ID_AND_SUMMARY_REQUIRED"
	ErrCodeInvalidSeverity         = "INVALID_SEVERITY"
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeAdminNotConfigured      = "ADMIN_NOT_CONFIGURED"
	ErrCodeChangeNotFound          = "CHANGE_NOT_FOUND"
	ErrCodeChangeNotApproved       = "CHANGE_NOT_APPROVED"
	ErrCodeChangeAlreadyPublished  = "CHANGE_ALREADY_PUBLISHED"
	ErrCodeDispatchInProgress      = "DISPATCH_IN_PROGRESS"
	ErrCodeChangeUpdateFailed      = "CHANGE_UPDATE_FAILED"
	ErrCodeStoreFailure            = "STORE_FAILURE"
	ErrCodeDeliveryFailed          = "DELIVERY_FAILED"
	ErrCodeMissingSignature        = "MISSING_SIGNATURE"
	ErrCodeInvalidSignature        = "INVALID_SIGNATURE"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

// NewValidationError は入力不備エラーを生成する。
func NewValidationError(code, message, action string) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     code,
		Message:  message,
		Category: "validation",
		Action:   action,
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return NewValidationError(
		ErrCodeInvalidRequest,
		fmt.Sprintf("Invalid request body: %s", reason),
		"Send a JSON object with the documented fields.",
	)
}

// NewChangeIDRequiredError はchange_id欠落エラーを生成する。
func NewChangeIDRequiredError() *APIError {
	return NewValidationError(
		ErrCodeChangeIDRequired,
		"change_id is required",
		"Include the change_id of an approved change.",
	)
}

// NewChangeIDAndSummaryRequiredError は承認リクエストの必須項目欠落エラーを生成する。
func NewChangeIDAndSummaryRequiredError() *APIError {
	return NewValidationError(
		ErrCodeChangeIDSummaryRequired,
		"change_id and summary are required",
		"Provide the change_id and a non-empty human-written summary.",
	)
}

// NewInvalidSeverityError は未知のseverity指定エラーを生成する。
func NewInvalidSeverityError(severity string) *APIError {
	return NewValidationError(
		ErrCodeInvalidSeverity,
		fmt.Sprintf("Invalid severity: %s", severity),
		"Use one of critical, warning or info, or omit severity to default to info.",
	)
}

// NewUnauthorizedError は管理トークン不一致エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Kind:     KindAuthorization,
		Code:     ErrCodeUnauthorized,
		Message:  "Unauthorized",
		Category: "auth",
		Action:   "Send Authorization: Bearer <admin token>.",
	}
}

// NewAdminNotConfiguredError は管理トークン未設定エラーを生成する。
// enforcedモードでトークンが空の場合にのみ発生する。
func NewAdminNotConfiguredError() *APIError {
	return &APIError{
		Kind:     KindPersistence,
		Code:     ErrCodeAdminNotConfigured,
		Message:  "Admin not configured",
		Category: "system",
		Action:   "Set ADMIN_API_TOKEN or run with ADMIN_AUTH_MODE=disabled in development.",
	}
}

// NewChangeNotFoundError は変更レコード未検出エラーを生成する。
func NewChangeNotFoundError(changeID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeChangeNotFound,
		Message:  "Change not found",
		Category: "change",
		Action:   fmt.Sprintf("Check the change id %q.", changeID),
	}
}

// NewChangeNotApprovedError は未承認の変更に対する配信要求エラーを生成する。
func NewChangeNotApprovedError() *APIError {
	return &APIError{
		Kind:     KindPrecondition,
		Code:     ErrCodeChangeNotApproved,
		Message:  "Change must be approved before alerts can be sent",
		Category: "change",
		Action:   "Approve the change with a summary first.",
	}
}

// NewChangeAlreadyPublishedError は公開済みの変更に対する再配信要求エラーを生成する。
func NewChangeAlreadyPublishedError() *APIError {
	return &APIError{
		Kind:     KindPrecondition,
		Code:     ErrCodeChangeAlreadyPublished,
		Message:  "Alerts for this change have already been sent",
		Category: "change",
		Action:   "Check the alert log instead of re-sending.",
	}
}

// NewDispatchInProgressError は別の配信が同じ変更を処理中であることを示すエラーを生成する。
func NewDispatchInProgressError() *APIError {
	return &APIError{
		Kind:     KindPrecondition,
		Code:     ErrCodeDispatchInProgress,
		Message:  "Alerts for this change are already being sent",
		Category: "change",
		Action:   "Wait for the running dispatch to finish.",
	}
}

// NewPersistenceError はデータストア障害エラーを生成する。
// messageはそのままレスポンスに含まれるため、原因の詳細はerrに入れる。
func NewPersistenceError(code, message string, err error) *APIError {
	return &APIError{
		Kind:     KindPersistence,
		Code:     code,
		Message:  message,
		Category: "system",
		Action:   "Try again later.",
		Err:      err,
	}
}

// NewChangeUpdateFailedError は変更レコード更新失敗エラーを生成する。
// 対象IDが存在しない場合もこのエラーになる（単一のUPDATE文で判定するため）。
func NewChangeUpdateFailedError(err error) *APIError {
	msg := "failed to update change"
	if err != nil {
		msg = err.Error()
	}
	return NewPersistenceError(ErrCodeChangeUpdateFailed, msg, err)
}

// NewDeliveryError は単一宛先への配信失敗エラーを生成する。
func NewDeliveryError(recipient string, err error) *APIError {
	return &APIError{
		Kind:     KindDelivery,
		Code:     ErrCodeDeliveryFailed,
		Message:  fmt.Sprintf("Failed to deliver alert to %s", recipient),
		Category: "delivery",
		Err:      err,
	}
}

// NewMissingSignatureError は署名ヘッダー欠落エラーを生成する。
func NewMissingSignatureError() *APIError {
	return NewValidationError(ErrCodeMissingSignature, "Missing signature", "")
}

// NewInvalidSignatureError は署名検証失敗エラーを生成する。
func NewInvalidSignatureError(err error) *APIError {
	e := NewValidationError(ErrCodeInvalidSignature, "Invalid signature", "")
	e.Err = err
	return e
}
