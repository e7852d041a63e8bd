package auth

import "github.com/ceyewan/fpdmcp/xerrors"

// 文档访问令牌的校验错误，集中代理据此拒绝 /register 之后的下载请求
var (
	ErrInvalidToken     = xerrors.New("auth: invalid download token")
	ErrExpiredToken     = xerrors.New("auth: download token expired")
	ErrMissingToken     = xerrors.New("auth: missing download token")
	ErrInvalidClaims    = xerrors.New("auth: token does not grant a document")
	ErrInvalidSignature = xerrors.New("auth: invalid token signature")
	ErrInvalidConfig    = xerrors.New("auth: invalid issuer config")
)
