// Package email はトランザクションメールの送信経路を提供する。
package email

import (
	"context"
	"errors"
)

// ErrEmptyRecipient は宛先が空のメッセージを送ろうとした場合のエラー。
var ErrEmptyRecipient = errors.New("email: recipient is empty")

// Message は1宛先向けのメール。
type Message struct {
	To      string
	Subject string
	HTML    string
	// Text はHTMLを表示できないクライアント向けの本文。空の場合はHTMLから生成する。
	Text string
	// Tags はプロバイダー側で配信を追跡するためのキーと値。
	Tags map[string]string
}

// Provider はメール送信プロバイダーのインターフェース。
// 送信に成功した場合はプロバイダーが採番したメッセージIDを返す。
type Provider interface {
	Send(ctx context.Context, msg Message) (messageID string, err error)
}
