// Package pdf はアップロードされたPDFの受け入れ検証と、ページ画像への変換を提供します。
package pdf

import "fmt"

// エラーコード
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeUnsupportedPDF = "UNSUPPORTED_PDF"
	CodeLimitExceeded  = "LIMIT_EXCEEDED"
)

// Error は利用者に返せる入力エラーです。Code は API レスポンスにそのまま使われます。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
